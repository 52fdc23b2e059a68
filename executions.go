package mlmd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sile/mlmd-go/internal/query"
	"github.com/sile/mlmd-go/metadata"
)

// PostExecutionRequest creates an execution. Construct with
// Store.PostExecution.
type PostExecutionRequest struct {
	store  *Store
	typeID metadata.TypeID
	draft  itemDraft
}

// PostExecution creates an execution of the given type.
func (s *Store) PostExecution(typeID metadata.TypeID) *PostExecutionRequest {
	return &PostExecutionRequest{
		store:  s,
		typeID: typeID,
		draft: itemDraft{
			properties:       metadata.PropertyValues{},
			customProperties: metadata.PropertyValues{},
		},
	}
}

// Name gives the execution a name, unique within its type.
func (r *PostExecutionRequest) Name(name string) *PostExecutionRequest {
	r.draft.name = &name
	return r
}

// State sets the initial execution state.
func (r *PostExecutionRequest) State(state metadata.ExecutionState) *PostExecutionRequest {
	v := int32(state)
	r.draft.state = &v
	return r
}

// Property sets a declared property value.
func (r *PostExecutionRequest) Property(name string, v metadata.PropertyValue) *PostExecutionRequest {
	r.draft.properties[name] = v
	return r
}

// CustomProperty sets an undeclared, free-form property value.
func (r *PostExecutionRequest) CustomProperty(name string, v metadata.PropertyValue) *PostExecutionRequest {
	r.draft.customProperties[name] = v
	return r
}

// Execute creates the execution and returns its id.
func (r *PostExecutionRequest) Execute(ctx context.Context) (metadata.ExecutionID, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PostExecution",
		attribute.Int("mlmd.type.id", int(r.typeID)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.postItem(ctx, query.ExecutionTable, metadata.KindExecution, r.typeID, r.draft)
	done(err)
	return metadata.ExecutionID(id), err
}

// PutExecutionRequest updates an execution. Construct with
// Store.PutExecution.
type PutExecutionRequest struct {
	store *Store
	id    metadata.ExecutionID
	draft itemDraft
}

// PutExecution updates the execution with the given id.
func (s *Store) PutExecution(id metadata.ExecutionID) *PutExecutionRequest {
	return &PutExecutionRequest{
		store: s,
		id:    id,
		draft: itemDraft{
			properties:       metadata.PropertyValues{},
			customProperties: metadata.PropertyValues{},
		},
	}
}

// Name renames the execution.
func (r *PutExecutionRequest) Name(name string) *PutExecutionRequest {
	r.draft.name = &name
	return r
}

// State replaces the execution's last known state.
func (r *PutExecutionRequest) State(state metadata.ExecutionState) *PutExecutionRequest {
	v := int32(state)
	r.draft.state = &v
	return r
}

// Property sets a declared property value.
func (r *PutExecutionRequest) Property(name string, v metadata.PropertyValue) *PutExecutionRequest {
	r.draft.properties[name] = v
	return r
}

// CustomProperty sets an undeclared, free-form property value.
func (r *PutExecutionRequest) CustomProperty(name string, v metadata.PropertyValue) *PutExecutionRequest {
	r.draft.customProperties[name] = v
	return r
}

// Execute applies the update. Fails with ErrNotFound when the id names no
// execution.
func (r *PutExecutionRequest) Execute(ctx context.Context) error {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PutExecution",
		attribute.Int("mlmd.execution.id", int(r.id)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.putItem(ctx, query.ExecutionTable, metadata.KindExecution, int32(r.id), r.draft)
	done(err)
	return err
}

// GetExecutionsRequest reads executions. Construct with
// Store.GetExecutions; with no filters it returns every execution in id
// order.
type GetExecutionsRequest struct {
	store  *Store
	filter query.ItemFilter
}

// GetExecutions reads executions.
func (s *Store) GetExecutions() *GetExecutionsRequest {
	return &GetExecutionsRequest{store: s}
}

// Type restricts the read to executions of the named type.
func (r *GetExecutionsRequest) Type(typeName string) *GetExecutionsRequest {
	r.filter.TypeName = &typeName
	return r
}

// TypeAndName restricts the read to the single execution with the given
// type and name.
func (r *GetExecutionsRequest) TypeAndName(typeName, name string) *GetExecutionsRequest {
	r.filter.TypeName = &typeName
	r.filter.Name = &name
	return r
}

// TypeAndNamePattern restricts the read to executions of the named type
// whose name matches the SQL LIKE pattern.
func (r *GetExecutionsRequest) TypeAndNamePattern(typeName, pattern string) *GetExecutionsRequest {
	r.filter.TypeName = &typeName
	r.filter.NamePattern = &pattern
	return r
}

// IDs restricts the read to the given execution ids.
func (r *GetExecutionsRequest) IDs(ids ...metadata.ExecutionID) *GetExecutionsRequest {
	for _, id := range ids {
		r.filter.IDs = append(r.filter.IDs, int32(id))
	}
	return r
}

// Context restricts the read to executions associated with the given
// context.
func (r *GetExecutionsRequest) Context(id metadata.ContextID) *GetExecutionsRequest {
	v := int32(id)
	r.filter.ContextID = &v
	return r
}

// CreatedWithin restricts the read to executions created in [start, end).
func (r *GetExecutionsRequest) CreatedWithin(start, end time.Time) *GetExecutionsRequest {
	r.filter.CreateTime = timeRange(start, end)
	return r
}

// UpdatedWithin restricts the read to executions last updated in
// [start, end).
func (r *GetExecutionsRequest) UpdatedWithin(start, end time.Time) *GetExecutionsRequest {
	r.filter.UpdateTime = timeRange(start, end)
	return r
}

// OrderBy sorts the result by the given field.
func (r *GetExecutionsRequest) OrderBy(field OrderByField, asc bool) *GetExecutionsRequest {
	r.filter.OrderBy = field.column()
	r.filter.Desc = !asc
	return r
}

// Limit caps the number of returned executions.
func (r *GetExecutionsRequest) Limit(n int) *GetExecutionsRequest {
	r.filter.Limit = &n
	return r
}

// Offset skips the first n matching executions. No effect without Limit.
func (r *GetExecutionsRequest) Offset(n int) *GetExecutionsRequest {
	r.filter.Offset = &n
	return r
}

// Execute returns the matching executions.
func (r *GetExecutionsRequest) Execute(ctx context.Context) ([]metadata.Execution, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "GetExecutions")
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.getItems(ctx, query.ExecutionTable, r.filter)
	var executions []metadata.Execution
	if err == nil {
		executions = make([]metadata.Execution, len(rows))
		for i, row := range rows {
			if executions[i], err = executionFromRow(row); err != nil {
				executions = nil
				break
			}
		}
	}
	done(err)
	return executions, err
}

// Count returns the number of matching executions, ignoring Limit and
// Offset.
func (r *GetExecutionsRequest) Count(ctx context.Context) (int, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "CountExecutions")
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.countItems(ctx, query.ExecutionTable, r.filter)
	done(err)
	return n, err
}

func executionFromRow(row itemRow) (metadata.Execution, error) {
	var state metadata.ExecutionState
	if row.state != nil {
		var err error
		state, err = metadata.ExecutionStateFromInt(*row.state)
		if err != nil {
			return metadata.Execution{}, fmt.Errorf("execution %d: %w: %v", row.id, ErrConvert, err)
		}
	}
	return metadata.Execution{
		ID:               metadata.ExecutionID(row.id),
		TypeID:           metadata.TypeID(row.typeID),
		Name:             row.name,
		LastKnownState:   state,
		Properties:       row.properties,
		CustomProperties: row.customProperties,
		CreateTime:       time.UnixMilli(row.createMillis),
		LastUpdateTime:   time.UnixMilli(row.updateMillis),
	}, nil
}
