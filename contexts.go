package mlmd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sile/mlmd-go/internal/query"
	"github.com/sile/mlmd-go/metadata"
)

// PostContextRequest creates a context. Construct with Store.PostContext.
type PostContextRequest struct {
	store  *Store
	typeID metadata.TypeID
	name   string
	draft  itemDraft
}

// PostContext creates a context of the given type. Unlike artifacts and
// executions, a context requires a non-empty name, unique within its type.
func (s *Store) PostContext(typeID metadata.TypeID, name string) *PostContextRequest {
	return &PostContextRequest{
		store:  s,
		typeID: typeID,
		name:   name,
		draft: itemDraft{
			properties:       metadata.PropertyValues{},
			customProperties: metadata.PropertyValues{},
		},
	}
}

// Property sets a declared property value.
func (r *PostContextRequest) Property(name string, v metadata.PropertyValue) *PostContextRequest {
	r.draft.properties[name] = v
	return r
}

// CustomProperty sets an undeclared, free-form property value.
func (r *PostContextRequest) CustomProperty(name string, v metadata.PropertyValue) *PostContextRequest {
	r.draft.customProperties[name] = v
	return r
}

// Execute creates the context and returns its id.
func (r *PostContextRequest) Execute(ctx context.Context) (metadata.ContextID, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PostContext",
		attribute.Int("mlmd.type.id", int(r.typeID)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.name == "" {
		done(ErrContextNameRequired)
		return 0, ErrContextNameRequired
	}
	r.draft.name = &r.name
	id, err := s.postItem(ctx, query.ContextTable, metadata.KindContext, r.typeID, r.draft)
	done(err)
	return metadata.ContextID(id), err
}

// PutContextRequest updates a context. Construct with Store.PutContext.
type PutContextRequest struct {
	store *Store
	id    metadata.ContextID
	draft itemDraft
}

// PutContext updates the context with the given id.
func (s *Store) PutContext(id metadata.ContextID) *PutContextRequest {
	return &PutContextRequest{
		store: s,
		id:    id,
		draft: itemDraft{
			properties:       metadata.PropertyValues{},
			customProperties: metadata.PropertyValues{},
		},
	}
}

// Name renames the context.
func (r *PutContextRequest) Name(name string) *PutContextRequest {
	r.draft.name = &name
	return r
}

// Property sets a declared property value.
func (r *PutContextRequest) Property(name string, v metadata.PropertyValue) *PutContextRequest {
	r.draft.properties[name] = v
	return r
}

// CustomProperty sets an undeclared, free-form property value.
func (r *PutContextRequest) CustomProperty(name string, v metadata.PropertyValue) *PutContextRequest {
	r.draft.customProperties[name] = v
	return r
}

// Execute applies the update. Fails with ErrNotFound when the id names no
// context.
func (r *PutContextRequest) Execute(ctx context.Context) error {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PutContext",
		attribute.Int("mlmd.context.id", int(r.id)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.draft.name != nil && *r.draft.name == "" {
		done(ErrContextNameRequired)
		return ErrContextNameRequired
	}
	err := s.putItem(ctx, query.ContextTable, metadata.KindContext, int32(r.id), r.draft)
	done(err)
	return err
}

// GetContextsRequest reads contexts. Construct with Store.GetContexts;
// with no filters it returns every context in id order.
type GetContextsRequest struct {
	store  *Store
	filter query.ItemFilter
}

// GetContexts reads contexts.
func (s *Store) GetContexts() *GetContextsRequest {
	return &GetContextsRequest{store: s}
}

// Type restricts the read to contexts of the named type.
func (r *GetContextsRequest) Type(typeName string) *GetContextsRequest {
	r.filter.TypeName = &typeName
	return r
}

// TypeAndName restricts the read to the single context with the given type
// and name.
func (r *GetContextsRequest) TypeAndName(typeName, name string) *GetContextsRequest {
	r.filter.TypeName = &typeName
	r.filter.Name = &name
	return r
}

// TypeAndNamePattern restricts the read to contexts of the named type
// whose name matches the SQL LIKE pattern.
func (r *GetContextsRequest) TypeAndNamePattern(typeName, pattern string) *GetContextsRequest {
	r.filter.TypeName = &typeName
	r.filter.NamePattern = &pattern
	return r
}

// IDs restricts the read to the given context ids.
func (r *GetContextsRequest) IDs(ids ...metadata.ContextID) *GetContextsRequest {
	for _, id := range ids {
		r.filter.IDs = append(r.filter.IDs, int32(id))
	}
	return r
}

// Artifact restricts the read to contexts the given artifacts are
// attributed to.
func (r *GetContextsRequest) Artifact(ids ...metadata.ArtifactID) *GetContextsRequest {
	for _, id := range ids {
		r.filter.ArtifactIDs = append(r.filter.ArtifactIDs, int32(id))
	}
	return r
}

// Execution restricts the read to contexts the given executions are
// associated with.
func (r *GetContextsRequest) Execution(ids ...metadata.ExecutionID) *GetContextsRequest {
	for _, id := range ids {
		r.filter.ExecutionIDs = append(r.filter.ExecutionIDs, int32(id))
	}
	return r
}

// CreatedWithin restricts the read to contexts created in [start, end).
func (r *GetContextsRequest) CreatedWithin(start, end time.Time) *GetContextsRequest {
	r.filter.CreateTime = timeRange(start, end)
	return r
}

// UpdatedWithin restricts the read to contexts last updated in [start, end).
func (r *GetContextsRequest) UpdatedWithin(start, end time.Time) *GetContextsRequest {
	r.filter.UpdateTime = timeRange(start, end)
	return r
}

// OrderBy sorts the result by the given field.
func (r *GetContextsRequest) OrderBy(field OrderByField, asc bool) *GetContextsRequest {
	r.filter.OrderBy = field.column()
	r.filter.Desc = !asc
	return r
}

// Limit caps the number of returned contexts.
func (r *GetContextsRequest) Limit(n int) *GetContextsRequest {
	r.filter.Limit = &n
	return r
}

// Offset skips the first n matching contexts. No effect without Limit.
func (r *GetContextsRequest) Offset(n int) *GetContextsRequest {
	r.filter.Offset = &n
	return r
}

// Execute returns the matching contexts.
func (r *GetContextsRequest) Execute(ctx context.Context) ([]metadata.Context, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "GetContexts")
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.getItems(ctx, query.ContextTable, r.filter)
	var contexts []metadata.Context
	if err == nil {
		contexts = make([]metadata.Context, len(rows))
		for i, row := range rows {
			if contexts[i], err = contextFromRow(row); err != nil {
				contexts = nil
				break
			}
		}
	}
	done(err)
	return contexts, err
}

// Count returns the number of matching contexts, ignoring Limit and
// Offset.
func (r *GetContextsRequest) Count(ctx context.Context) (int, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "CountContexts")
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.countItems(ctx, query.ContextTable, r.filter)
	done(err)
	return n, err
}

func contextFromRow(row itemRow) (metadata.Context, error) {
	if row.name == nil {
		return metadata.Context{}, fmt.Errorf("context %d: %w: name column is null", row.id, ErrConvert)
	}
	return metadata.Context{
		ID:               metadata.ContextID(row.id),
		TypeID:           metadata.TypeID(row.typeID),
		Name:             *row.name,
		Properties:       row.properties,
		CustomProperties: row.customProperties,
		CreateTime:       time.UnixMilli(row.createMillis),
		LastUpdateTime:   time.UnixMilli(row.updateMillis),
	}, nil
}
