// Package domain defines the data types exchanged between the transaction
// engine and its collaborators: identities, boundary records, lifecycle
// states, mapping metadata and validation rules.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// idSeparator splits the class and value parts of a rendered ObjectID.
const idSeparator = "|"

// ErrInvalidObjectID is returned when an ObjectID cannot be parsed.
var ErrInvalidObjectID = errors.New("domain: invalid object id")

// ObjectID identifies a persistent object across transactions. The zero value
// means "no object" and is used for null references.
type ObjectID struct {
	Class string
	Value string
}

// NewObjectID returns a fresh identity for the given class.
func NewObjectID(class string) ObjectID {
	return ObjectID{Class: class, Value: uuid.NewString()}
}

// MustObjectID builds an identity from known parts, panicking on empty input.
func MustObjectID(class, value string) ObjectID {
	if class == "" || value == "" {
		panic(fmt.Errorf("%w: class and value are required", ErrInvalidObjectID))
	}
	return ObjectID{Class: class, Value: value}
}

// IsZero reports whether the id is the null reference.
func (id ObjectID) IsZero() bool {
	return id.Class == "" && id.Value == ""
}

// String renders the id as Class|Value.
func (id ObjectID) String() string {
	if id.IsZero() {
		return "<null>"
	}
	return id.Class + idSeparator + id.Value
}

// MarshalText implements encoding.TextMarshaler so ids can key JSON maps.
func (id ObjectID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.Class + idSeparator + id.Value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ObjectID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ObjectID{}
		return nil
	}
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseObjectID parses the Class|Value form produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	class, value, ok := strings.Cut(s, idSeparator)
	if !ok || class == "" || value == "" {
		return ObjectID{}, fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	return ObjectID{Class: class, Value: value}, nil
}

// EndPointID names one side of a relation on a concrete object.
type EndPointID struct {
	Object   ObjectID
	Property string
}

func (id EndPointID) String() string {
	return id.Object.String() + "." + id.Property
}
