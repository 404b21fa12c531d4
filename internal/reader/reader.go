// Package reader defines the contract of the low-level exchange-file reader.
// The real reader is an external collaborator that understands the STEP
// syntax and the element schema; this core only consumes its typed
// enumeration surface and never touches raw file bytes.
package reader

import "time"

// Value is one declared attribute or property value. Kind is the value kind
// declared by the source file (string, real, integer, boolean, enum, ...);
// it is recorded as-is, never validated.
type Value struct {
	Kind string
	Data string
}

// Element is one building element as exposed by the low-level reader.
// GUID is the stable identity; it is opaque and case-sensitive.
type Element struct {
	GUID           string
	Name           string
	Subtype        string
	Attributes     map[string]Value
	PropertyGroups map[string]map[string]Value
}

// Relationship is one directed edge as exposed by the low-level reader.
type Relationship struct {
	Kind       string
	SourceGUID string
	TargetGUID string
	Attributes map[string]string
}

// ModelReader enumerates the typed contents of one exchange file.
// Enumeration callbacks returning an error abort the enumeration with that
// error; a reader-level error from any method means the file is unreadable.
type ModelReader interface {
	// SourceTimestamp returns the timestamp declared in the file header, if any.
	SourceTimestamp() (time.Time, bool)
	// ElementKinds lists the element schema kinds present in the file.
	ElementKinds() ([]string, error)
	// EachElement enumerates all elements of one kind.
	EachElement(kind string, fn func(el Element) error) error
	// RelationshipKinds lists the relationship kinds present in the file.
	RelationshipKinds() ([]string, error)
	// EachRelationship enumerates all relationships of one kind.
	EachRelationship(kind string, fn func(rel Relationship) error) error
	// Close releases the underlying file handle.
	Close() error
}
