// Package metadata defines the domain types recorded by an ml-metadata
// database: typed schemas (Type), their instances (Artifact, Execution,
// Context), and the edges linking them (Event, Attribution, Association).
//
// The integer encodings in this package (kinds, states, property types)
// are part of the on-disk schema shared with other ml-metadata clients
// and must not change.
package metadata

import (
	"fmt"
	"time"
)

// Kind identifies which of the three item families a Type describes.
type Kind int32

// Kind values as persisted in Type.type_kind.
const (
	KindExecution Kind = 0
	KindArtifact  Kind = 1
	KindContext   Kind = 2
)

// String returns the lowercase kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindExecution:
		return "execution"
	case KindArtifact:
		return "artifact"
	case KindContext:
		return "context"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// TableName returns the item table the kind's instances are stored in.
func (k Kind) TableName() string {
	switch k {
	case KindExecution:
		return "Execution"
	case KindArtifact:
		return "Artifact"
	case KindContext:
		return "Context"
	default:
		return ""
	}
}

// TypeID identifies a Type across all kinds.
type TypeID int32

// ArtifactID identifies an Artifact.
type ArtifactID int32

// ExecutionID identifies an Execution.
type ExecutionID int32

// ContextID identifies a Context.
type ContextID int32

// EventID identifies an Event.
type EventID int32

// PropertyType is the declared value type of a schema property.
type PropertyType int32

// PropertyType values as persisted in TypeProperty.data_type.
const (
	PropertyTypeInt    PropertyType = 1
	PropertyTypeDouble PropertyType = 2
	PropertyTypeString PropertyType = 3
)

// PropertyTypeFromInt decodes a stored data_type column value.
func PropertyTypeFromInt(v int32) (PropertyType, error) {
	switch v {
	case 1, 2, 3:
		return PropertyType(v), nil
	default:
		return 0, fmt.Errorf("property type %d is undefined", v)
	}
}

func (t PropertyType) String() string {
	switch t {
	case PropertyTypeInt:
		return "int"
	case PropertyTypeDouble:
		return "double"
	case PropertyTypeString:
		return "string"
	default:
		return fmt.Sprintf("property-type(%d)", int32(t))
	}
}

// PropertyValue holds exactly one of an int, double or string value.
// The zero value is not valid; construct values with IntValue,
// DoubleValue or StringValue.
type PropertyValue struct {
	typ PropertyType
	i   int32
	d   float64
	s   string
}

// IntValue makes an int property value.
func IntValue(v int32) PropertyValue { return PropertyValue{typ: PropertyTypeInt, i: v} }

// DoubleValue makes a double property value.
func DoubleValue(v float64) PropertyValue { return PropertyValue{typ: PropertyTypeDouble, d: v} }

// StringValue makes a string property value.
func StringValue(v string) PropertyValue { return PropertyValue{typ: PropertyTypeString, s: v} }

// Type returns the tag of the stored value.
func (v PropertyValue) Type() PropertyType { return v.typ }

// AsInt returns the int value; ok is false if the value is not an int.
func (v PropertyValue) AsInt() (int32, bool) { return v.i, v.typ == PropertyTypeInt }

// AsDouble returns the double value; ok is false if the value is not a double.
func (v PropertyValue) AsDouble() (float64, bool) { return v.d, v.typ == PropertyTypeDouble }

// AsString returns the string value; ok is false if the value is not a string.
func (v PropertyValue) AsString() (string, bool) { return v.s, v.typ == PropertyTypeString }

func (v PropertyValue) String() string {
	switch v.typ {
	case PropertyTypeInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case PropertyTypeDouble:
		return fmt.Sprintf("Double(%v)", v.d)
	case PropertyTypeString:
		return fmt.Sprintf("String(%q)", v.s)
	default:
		return "Invalid"
	}
}

// PropertyTypes maps property names to their declared types.
type PropertyTypes map[string]PropertyType

// PropertyValues maps property names to their values.
type PropertyValues map[string]PropertyValue

// Type is a user-declared schema for artifacts, executions or contexts.
type Type struct {
	ID         TypeID
	Kind       Kind
	Name       string
	Properties PropertyTypes
}

// ArtifactState tracks the lifecycle of an artifact's payload.
type ArtifactState int32

// ArtifactState values as persisted in Artifact.state.
const (
	ArtifactStateUnknown           ArtifactState = 0
	ArtifactStatePending           ArtifactState = 1
	ArtifactStateLive              ArtifactState = 2
	ArtifactStateMarkedForDeletion ArtifactState = 3
	ArtifactStateDeleted           ArtifactState = 4
)

// ArtifactStateFromInt decodes a stored state column value.
func ArtifactStateFromInt(v int32) (ArtifactState, error) {
	if v < 0 || v > 4 {
		return 0, fmt.Errorf("artifact state %d is undefined", v)
	}
	return ArtifactState(v), nil
}

// ExecutionState tracks the last known state of an execution.
// Transitions are New -> Running -> Complete | Cached | Failed | Canceled.
type ExecutionState int32

// ExecutionState values as persisted in Execution.last_known_state.
const (
	ExecutionStateUnknown  ExecutionState = 0
	ExecutionStateNew      ExecutionState = 1
	ExecutionStateRunning  ExecutionState = 2
	ExecutionStateComplete ExecutionState = 3
	ExecutionStateFailed   ExecutionState = 4
	ExecutionStateCached   ExecutionState = 5
	ExecutionStateCanceled ExecutionState = 6
)

// ExecutionStateFromInt decodes a stored last_known_state column value.
func ExecutionStateFromInt(v int32) (ExecutionState, error) {
	if v < 0 || v > 6 {
		return 0, fmt.Errorf("execution state %d is undefined", v)
	}
	return ExecutionState(v), nil
}

// Artifact is a persisted ML data object (a dataset, model, checkpoint)
// recorded with an optional URI and typed metadata.
type Artifact struct {
	ID               ArtifactID
	TypeID           TypeID
	Name             *string
	URI              *string
	State            ArtifactState
	Properties       PropertyValues
	CustomProperties PropertyValues
	CreateTime       time.Time
	LastUpdateTime   time.Time
}

// Execution is a recorded invocation of a process (a training step, a
// transform) carrying state and typed metadata.
type Execution struct {
	ID               ExecutionID
	TypeID           TypeID
	Name             *string
	LastKnownState   ExecutionState
	Properties       PropertyValues
	CustomProperties PropertyValues
	CreateTime       time.Time
	LastUpdateTime   time.Time
}

// Context is a named grouping (an experiment, a pipeline run) to which
// artifacts and executions are attached. Its name is required and unique
// within its type.
type Context struct {
	ID               ContextID
	TypeID           TypeID
	Name             string
	Properties       PropertyValues
	CustomProperties PropertyValues
	CreateTime       time.Time
	LastUpdateTime   time.Time
}

// EventType classifies the role an artifact plays for an execution.
type EventType int32

// EventType values as persisted in Event.type.
const (
	EventTypeUnknown        EventType = 0
	EventTypeDeclaredOutput EventType = 1
	EventTypeDeclaredInput  EventType = 2
	EventTypeInput          EventType = 3
	EventTypeOutput         EventType = 4
	EventTypeInternalInput  EventType = 5
	EventTypeInternalOutput EventType = 6
)

// EventTypeFromInt decodes a stored type column value.
func EventTypeFromInt(v int32) (EventType, error) {
	if v < 0 || v > 6 {
		return 0, fmt.Errorf("event type %d is undefined", v)
	}
	return EventType(v), nil
}

// EventStep is one element of an event path. A step is either an index
// into a list or a key into a map, never both.
type EventStep struct {
	index *int32
	key   *string
}

// IndexStep makes a step addressing a list position.
func IndexStep(i int32) EventStep { return EventStep{index: &i} }

// KeyStep makes a step addressing a map entry.
func KeyStep(k string) EventStep { return EventStep{key: &k} }

// Index returns the index of the step; ok is false for key steps.
func (s EventStep) Index() (int32, bool) {
	if s.index == nil {
		return 0, false
	}
	return *s.index, true
}

// Key returns the key of the step; ok is false for index steps.
func (s EventStep) Key() (string, bool) {
	if s.key == nil {
		return "", false
	}
	return *s.key, true
}

func (s EventStep) String() string {
	if s.index != nil {
		return fmt.Sprintf("Index(%d)", *s.index)
	}
	if s.key != nil {
		return fmt.Sprintf("Key(%q)", *s.key)
	}
	return "Invalid"
}

// Event is a directed artifact/execution edge typed by role, with an
// ordered path naming the artifact in the context of the execution.
type Event struct {
	ArtifactID  ArtifactID
	ExecutionID ExecutionID
	Type        EventType
	Path        []EventStep
	CreateTime  time.Time
}
