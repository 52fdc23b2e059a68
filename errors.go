package mlmd

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by store operations. Match with errors.Is; most
// are returned wrapped with the offending ids or names.
var (
	// ErrUnsupportedDatabase is returned by New for URIs whose scheme is
	// neither sqlite nor mysql.
	ErrUnsupportedDatabase = errors.New("unsupported database")

	// ErrNotFound is returned when an id names no stored item.
	ErrNotFound = errors.New("not found")

	// ErrTypeNotFound is returned when a type id or name names no
	// registered type.
	ErrTypeNotFound = errors.New("type not found")

	// ErrTypeAlreadyExists is returned when registering a type whose name
	// is taken by an incompatible schema.
	ErrTypeAlreadyExists = errors.New("type already exists")

	// ErrUndefinedProperty is returned when an item carries a property its
	// type does not declare, or a value of the wrong type.
	ErrUndefinedProperty = errors.New("undefined property")

	// ErrNameAlreadyExists is returned when an item name collides within
	// its type.
	ErrNameAlreadyExists = errors.New("name already exists")

	// ErrContextNameRequired is returned when posting a context without a
	// name.
	ErrContextNameRequired = errors.New("context name is required")

	// ErrConvert is returned when a stored row cannot be decoded into its
	// domain representation.
	ErrConvert = errors.New("conversion failed")
)

// SchemaVersion is the ml-metadata schema version this module reads and
// writes.
const SchemaVersion int32 = 6

// UnsupportedSchemaVersionError is returned by New when the database was
// initialized by an incompatible ml-metadata release.
type UnsupportedSchemaVersionError struct {
	Actual int32
}

func (e *UnsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("unsupported schema version %d (expected %d)", e.Actual, SchemaVersion)
}

// TooManyEnvRecordsError is returned by New when the MLMDEnv table holds
// more than one row, which indicates a corrupt database.
type TooManyEnvRecordsError struct {
	Count int
}

func (e *TooManyEnvRecordsError) Error() string {
	return fmt.Sprintf("MLMDEnv table has %d records (expected 1)", e.Count)
}
