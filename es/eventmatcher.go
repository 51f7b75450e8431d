package es

// EventMatcher is a func that can match event to a criteria.
type EventMatcher func(Event) bool

// MatchAny matches any event.
func MatchAny() EventMatcher {
	return func(Event) bool {
		return true
	}
}

// MatchEvent matches a specific event type.
func MatchEvent(data interface{}) EventMatcher {
	_, name := GetTypeName(data)
	return func(e Event) bool {
		return e.EventType == name
	}
}

// MatchAnyEventOf matches if any of the given event types match.
func MatchAnyEventOf(events ...interface{}) EventMatcher {
	matchers := make([]EventMatcher, len(events))
	for i, evt := range events {
		matchers[i] = MatchEvent(evt)
	}

	return func(e Event) bool {
		for _, m := range matchers {
			if m(e) {
				return true
			}
		}
		return false
	}
}

// MatchAggregateType matches events from a specific aggregate type.
func MatchAggregateType(aggregateType string) EventMatcher {
	return func(e Event) bool {
		return e.AggregateType == aggregateType
	}
}
