package es

import (
	"reflect"
	"time"
)

// GetTypeName returns the dereferenced type and name of the source.
func GetTypeName(source interface{}) (reflect.Type, string) {
	rawType := reflect.TypeOf(source)
	if rawType.Kind() == reflect.Ptr {
		rawType = rawType.Elem()
	}
	return rawType, rawType.Name()
}

// GetTimestamp returns the current time in UTC.
func GetTimestamp() time.Time {
	return time.Now().UTC()
}

// Clock supplies timestamps so tests can pin them.
type Clock func() time.Time
