package es

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantID identifies a tenant. Every stored event and every command
// carries one.
type TenantID struct {
	uuid.UUID
}

// NewTenantID generates a time-ordered tenant id.
func NewTenantID() TenantID {
	return TenantID{uuid.Must(uuid.NewV7())}
}

// ParseTenantID parses a tenant id from its string form.
func ParseTenantID(s string) (TenantID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, fmt.Errorf("%w: invalid tenant id %q", ErrValidation, s)
	}
	return TenantID{id}, nil
}

// IsZero reports whether the id is the zero value.
func (id TenantID) IsZero() bool {
	return id.UUID == uuid.Nil
}

// AggregateID identifies a single aggregate instance within a tenant.
type AggregateID struct {
	uuid.UUID
}

// NewAggregateID generates a time-ordered aggregate id.
func NewAggregateID() AggregateID {
	return AggregateID{uuid.Must(uuid.NewV7())}
}

// ParseAggregateID parses an aggregate id from its string form.
func ParseAggregateID(s string) (AggregateID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AggregateID{}, fmt.Errorf("%w: invalid aggregate id %q", ErrValidation, s)
	}
	return AggregateID{id}, nil
}

// IsZero reports whether the id is the zero value.
func (id AggregateID) IsZero() bool {
	return id.UUID == uuid.Nil
}

// EventID identifies a stored event.
type EventID struct {
	uuid.UUID
}

// NewEventID generates a time-ordered event id.
func NewEventID() EventID {
	return EventID{uuid.Must(uuid.NewV7())}
}

// ParseEventID parses an event id from its string form.
func ParseEventID(s string) (EventID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, fmt.Errorf("%w: invalid event id %q", ErrValidation, s)
	}
	return EventID{id}, nil
}

// IsZero reports whether the id is the zero value.
func (id EventID) IsZero() bool {
	return id.UUID == uuid.Nil
}

// PrincipalID identifies the user or service issuing a command.
type PrincipalID struct {
	uuid.UUID
}

// NewPrincipalID generates a time-ordered principal id.
func NewPrincipalID() PrincipalID {
	return PrincipalID{uuid.Must(uuid.NewV7())}
}

// ParsePrincipalID parses a principal id from its string form.
func ParsePrincipalID(s string) (PrincipalID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PrincipalID{}, fmt.Errorf("%w: invalid principal id %q", ErrValidation, s)
	}
	return PrincipalID{id}, nil
}

// IsZero reports whether the id is the zero value.
func (id PrincipalID) IsZero() bool {
	return id.UUID == uuid.Nil
}
