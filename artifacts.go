package mlmd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sile/mlmd-go/internal/query"
	"github.com/sile/mlmd-go/metadata"
)

// PostArtifactRequest creates an artifact. Construct with Store.PostArtifact.
type PostArtifactRequest struct {
	store  *Store
	typeID metadata.TypeID
	draft  itemDraft
}

// PostArtifact creates an artifact of the given type.
func (s *Store) PostArtifact(typeID metadata.TypeID) *PostArtifactRequest {
	return &PostArtifactRequest{
		store:  s,
		typeID: typeID,
		draft: itemDraft{
			properties:       metadata.PropertyValues{},
			customProperties: metadata.PropertyValues{},
		},
	}
}

// Name gives the artifact a name, unique within its type.
func (r *PostArtifactRequest) Name(name string) *PostArtifactRequest {
	r.draft.name = &name
	return r
}

// URI records where the artifact's payload lives.
func (r *PostArtifactRequest) URI(uri string) *PostArtifactRequest {
	r.draft.uri = &uri
	return r
}

// State sets the initial artifact state.
func (r *PostArtifactRequest) State(state metadata.ArtifactState) *PostArtifactRequest {
	v := int32(state)
	r.draft.state = &v
	return r
}

// Property sets a declared property value.
func (r *PostArtifactRequest) Property(name string, v metadata.PropertyValue) *PostArtifactRequest {
	r.draft.properties[name] = v
	return r
}

// CustomProperty sets an undeclared, free-form property value.
func (r *PostArtifactRequest) CustomProperty(name string, v metadata.PropertyValue) *PostArtifactRequest {
	r.draft.customProperties[name] = v
	return r
}

// Execute creates the artifact and returns its id.
func (r *PostArtifactRequest) Execute(ctx context.Context) (metadata.ArtifactID, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PostArtifact",
		attribute.Int("mlmd.type.id", int(r.typeID)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.postItem(ctx, query.ArtifactTable, metadata.KindArtifact, r.typeID, r.draft)
	done(err)
	return metadata.ArtifactID(id), err
}

// PutArtifactRequest updates an artifact. Construct with Store.PutArtifact.
type PutArtifactRequest struct {
	store *Store
	id    metadata.ArtifactID
	draft itemDraft
}

// PutArtifact updates the artifact with the given id. Only the fields set
// on the request change; supplied properties upsert into the stored set.
func (s *Store) PutArtifact(id metadata.ArtifactID) *PutArtifactRequest {
	return &PutArtifactRequest{
		store: s,
		id:    id,
		draft: itemDraft{
			properties:       metadata.PropertyValues{},
			customProperties: metadata.PropertyValues{},
		},
	}
}

// Name renames the artifact.
func (r *PutArtifactRequest) Name(name string) *PutArtifactRequest {
	r.draft.name = &name
	return r
}

// URI replaces the artifact's URI.
func (r *PutArtifactRequest) URI(uri string) *PutArtifactRequest {
	r.draft.uri = &uri
	return r
}

// State replaces the artifact's state.
func (r *PutArtifactRequest) State(state metadata.ArtifactState) *PutArtifactRequest {
	v := int32(state)
	r.draft.state = &v
	return r
}

// Property sets a declared property value.
func (r *PutArtifactRequest) Property(name string, v metadata.PropertyValue) *PutArtifactRequest {
	r.draft.properties[name] = v
	return r
}

// CustomProperty sets an undeclared, free-form property value.
func (r *PutArtifactRequest) CustomProperty(name string, v metadata.PropertyValue) *PutArtifactRequest {
	r.draft.customProperties[name] = v
	return r
}

// Execute applies the update. Fails with ErrNotFound when the id names no
// artifact.
func (r *PutArtifactRequest) Execute(ctx context.Context) error {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PutArtifact",
		attribute.Int("mlmd.artifact.id", int(r.id)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.putItem(ctx, query.ArtifactTable, metadata.KindArtifact, int32(r.id), r.draft)
	done(err)
	return err
}

// GetArtifactsRequest reads artifacts. Construct with Store.GetArtifacts;
// with no filters it returns every artifact in id order.
type GetArtifactsRequest struct {
	store  *Store
	filter query.ItemFilter
}

// GetArtifacts reads artifacts.
func (s *Store) GetArtifacts() *GetArtifactsRequest {
	return &GetArtifactsRequest{store: s}
}

// Type restricts the read to artifacts of the named type.
func (r *GetArtifactsRequest) Type(typeName string) *GetArtifactsRequest {
	r.filter.TypeName = &typeName
	return r
}

// TypeAndName restricts the read to the single artifact with the given
// type and name.
func (r *GetArtifactsRequest) TypeAndName(typeName, name string) *GetArtifactsRequest {
	r.filter.TypeName = &typeName
	r.filter.Name = &name
	return r
}

// TypeAndNamePattern restricts the read to artifacts of the named type
// whose name matches the SQL LIKE pattern.
func (r *GetArtifactsRequest) TypeAndNamePattern(typeName, pattern string) *GetArtifactsRequest {
	r.filter.TypeName = &typeName
	r.filter.NamePattern = &pattern
	return r
}

// IDs restricts the read to the given artifact ids.
func (r *GetArtifactsRequest) IDs(ids ...metadata.ArtifactID) *GetArtifactsRequest {
	for _, id := range ids {
		r.filter.IDs = append(r.filter.IDs, int32(id))
	}
	return r
}

// URI restricts the read to artifacts with the given URI.
func (r *GetArtifactsRequest) URI(uri string) *GetArtifactsRequest {
	r.filter.URI = &uri
	return r
}

// Context restricts the read to artifacts attributed to the given context.
func (r *GetArtifactsRequest) Context(id metadata.ContextID) *GetArtifactsRequest {
	v := int32(id)
	r.filter.ContextID = &v
	return r
}

// CreatedWithin restricts the read to artifacts created in [start, end).
// Either bound may be zero for a half-open range.
func (r *GetArtifactsRequest) CreatedWithin(start, end time.Time) *GetArtifactsRequest {
	r.filter.CreateTime = timeRange(start, end)
	return r
}

// UpdatedWithin restricts the read to artifacts last updated in [start, end).
func (r *GetArtifactsRequest) UpdatedWithin(start, end time.Time) *GetArtifactsRequest {
	r.filter.UpdateTime = timeRange(start, end)
	return r
}

// OrderBy sorts the result by the given field.
func (r *GetArtifactsRequest) OrderBy(field OrderByField, asc bool) *GetArtifactsRequest {
	r.filter.OrderBy = field.column()
	r.filter.Desc = !asc
	return r
}

// Limit caps the number of returned artifacts.
func (r *GetArtifactsRequest) Limit(n int) *GetArtifactsRequest {
	r.filter.Limit = &n
	return r
}

// Offset skips the first n matching artifacts. No effect without Limit.
func (r *GetArtifactsRequest) Offset(n int) *GetArtifactsRequest {
	r.filter.Offset = &n
	return r
}

// Execute returns the matching artifacts.
func (r *GetArtifactsRequest) Execute(ctx context.Context) ([]metadata.Artifact, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "GetArtifacts")
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.getItems(ctx, query.ArtifactTable, r.filter)
	var artifacts []metadata.Artifact
	if err == nil {
		artifacts = make([]metadata.Artifact, len(rows))
		for i, row := range rows {
			if artifacts[i], err = artifactFromRow(row); err != nil {
				artifacts = nil
				break
			}
		}
	}
	done(err)
	return artifacts, err
}

// Count returns the number of matching artifacts, ignoring Limit and
// Offset.
func (r *GetArtifactsRequest) Count(ctx context.Context) (int, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "CountArtifacts")
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.countItems(ctx, query.ArtifactTable, r.filter)
	done(err)
	return n, err
}

func artifactFromRow(row itemRow) (metadata.Artifact, error) {
	var state metadata.ArtifactState
	if row.state != nil {
		var err error
		state, err = metadata.ArtifactStateFromInt(*row.state)
		if err != nil {
			return metadata.Artifact{}, fmt.Errorf("artifact %d: %w: %v", row.id, ErrConvert, err)
		}
	}
	return metadata.Artifact{
		ID:               metadata.ArtifactID(row.id),
		TypeID:           metadata.TypeID(row.typeID),
		Name:             row.name,
		URI:              row.uri,
		State:            state,
		Properties:       row.properties,
		CustomProperties: row.customProperties,
		CreateTime:       time.UnixMilli(row.createMillis),
		LastUpdateTime:   time.UnixMilli(row.updateMillis),
	}, nil
}

func timeRange(start, end time.Time) *query.TimeRange {
	var r query.TimeRange
	if !start.IsZero() {
		v := start.UnixMilli()
		r.Start = &v
	}
	if !end.IsZero() {
		v := end.UnixMilli()
		r.End = &v
	}
	return &r
}
