package es

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// EventRegistry maps (event type name, event version) pairs to payload
// types so stored payloads can be decoded back into domain values.
type EventRegistry interface {
	// Register adds a payload type, keyed by its type name and version.
	Register(data interface{}, eventVersion int)
	// Decode builds a payload value from its stored form. The result is a
	// pointer to the registered type. An unregistered pair is
	// ErrUnknownEvent.
	Decode(eventType string, eventVersion int, payload json.RawMessage) (interface{}, error)
	// Known reports whether the pair has been registered.
	Known(eventType string, eventVersion int) bool
}

// NewEventRegistry creates a new EventRegistry.
func NewEventRegistry() EventRegistry {
	return &eventRegistry{
		registry: make(map[registryKey]reflect.Type),
	}
}

type registryKey struct {
	eventType    string
	eventVersion int
}

type eventRegistry struct {
	sync.RWMutex
	registry map[registryKey]reflect.Type
}

func (r *eventRegistry) Register(data interface{}, eventVersion int) {
	r.Lock()
	defer r.Unlock()

	t, name := GetTypeName(data)
	r.registry[registryKey{eventType: name, eventVersion: eventVersion}] = t
}

func (r *eventRegistry) Decode(eventType string, eventVersion int, payload json.RawMessage) (interface{}, error) {
	r.RLock()
	t, ok := r.registry[registryKey{eventType: eventType, eventVersion: eventVersion}]
	r.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownEvent, eventType, eventVersion)
	}

	data := reflect.New(t).Interface()
	if err := json.Unmarshal(payload, data); err != nil {
		return nil, fmt.Errorf("%w: decode %s v%d: %v", ErrProjectionDeserialize, eventType, eventVersion, err)
	}
	return data, nil
}

func (r *eventRegistry) Known(eventType string, eventVersion int) bool {
	r.RLock()
	defer r.RUnlock()

	_, ok := r.registry[registryKey{eventType: eventType, eventVersion: eventVersion}]
	return ok
}
