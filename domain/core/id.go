package core

import (
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	HypothesisID  ID
	SessionID     ID
	SessionTestID ID
)

// NewHypothesisID returns a fresh, time-ordered hypothesis identifier.
func NewHypothesisID() HypothesisID { return HypothesisID(NewID()) }

// NewSessionTestID returns a fresh, time-ordered session test identifier.
func NewSessionTestID() SessionTestID { return SessionTestID(NewID()) }

// String conversions for domain IDs
func (id HypothesisID) String() string  { return ID(id).String() }
func (id SessionID) String() string     { return ID(id).String() }
func (id SessionTestID) String() string { return ID(id).String() }

// ParseHypothesisID parses a string into HypothesisID
func ParseHypothesisID(s string) (HypothesisID, error) {
	if strings.TrimSpace(s) == "" {
		return "", NewValidationError("hypothesis_id", "cannot be empty")
	}
	return HypothesisID(s), nil
}

// ParseSessionID parses a string into SessionID
func ParseSessionID(s string) (SessionID, error) {
	if strings.TrimSpace(s) == "" {
		return "", NewValidationError("session_id", "cannot be empty")
	}
	return SessionID(s), nil
}
