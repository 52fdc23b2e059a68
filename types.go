package mlmd

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sile/mlmd-go/internal/query"
	"github.com/sile/mlmd-go/metadata"
)

// PutTypeRequest registers a type or extends an existing one. Construct
// with PutArtifactType, PutExecutionType or PutContextType.
type PutTypeRequest struct {
	store        *Store
	kind         metadata.Kind
	name         string
	properties   metadata.PropertyTypes
	canAddFields bool
	canOmitField bool
}

func (s *Store) putTypeRequest(kind metadata.Kind, name string) *PutTypeRequest {
	return &PutTypeRequest{
		store:      s,
		kind:       kind,
		name:       name,
		properties: metadata.PropertyTypes{},
	}
}

// PutArtifactType registers an artifact type named name.
func (s *Store) PutArtifactType(name string) *PutTypeRequest {
	return s.putTypeRequest(metadata.KindArtifact, name)
}

// PutExecutionType registers an execution type named name.
func (s *Store) PutExecutionType(name string) *PutTypeRequest {
	return s.putTypeRequest(metadata.KindExecution, name)
}

// PutContextType registers a context type named name.
func (s *Store) PutContextType(name string) *PutTypeRequest {
	return s.putTypeRequest(metadata.KindContext, name)
}

// Property declares a property on the type.
func (r *PutTypeRequest) Property(name string, t metadata.PropertyType) *PutTypeRequest {
	r.properties[name] = t
	return r
}

// PropertyInt declares an int property on the type.
func (r *PutTypeRequest) PropertyInt(name string) *PutTypeRequest {
	return r.Property(name, metadata.PropertyTypeInt)
}

// PropertyDouble declares a double property on the type.
func (r *PutTypeRequest) PropertyDouble(name string) *PutTypeRequest {
	return r.Property(name, metadata.PropertyTypeDouble)
}

// PropertyString declares a string property on the type.
func (r *PutTypeRequest) PropertyString(name string) *PutTypeRequest {
	return r.Property(name, metadata.PropertyTypeString)
}

// CanAddFields allows the request to declare properties an existing type
// with this name does not have yet; they are added to the stored type.
func (r *PutTypeRequest) CanAddFields() *PutTypeRequest {
	r.canAddFields = true
	return r
}

// CanOmitFields allows the request to leave out properties an existing
// type with this name declares; the stored type keeps them.
func (r *PutTypeRequest) CanOmitFields() *PutTypeRequest {
	r.canOmitField = true
	return r
}

// Execute registers the type and returns its id. Registering a name that
// exists is reconciled against the stored schema: identical declarations
// succeed, divergent ones fail with ErrTypeAlreadyExists unless
// CanAddFields/CanOmitFields permit the difference.
func (r *PutTypeRequest) Execute(ctx context.Context) (metadata.TypeID, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "PutType",
		attribute.String("mlmd.type.kind", r.kind.String()),
		attribute.String("mlmd.type.name", r.name),
	)
	s.mu.Lock()
	defer s.mu.Unlock()

	var id metadata.TypeID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.putType(ctx, tx, r)
		return err
	})
	done(err)
	return id, err
}

func (s *Store) putType(ctx context.Context, tx *sql.Tx, r *PutTypeRequest) (metadata.TypeID, error) {
	var id int32
	err := tx.QueryRowContext(ctx, s.qb.SelectTypeIDByName(), int32(r.kind), r.name).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return s.insertType(ctx, tx, r)
	case err != nil:
		return 0, fmt.Errorf("look up type %q: %w", r.name, err)
	}

	existing, err := s.typeProperties(ctx, tx, id)
	if err != nil {
		return 0, err
	}

	var added []string
	for name, t := range r.properties {
		have, ok := existing[name]
		if !ok {
			if !r.canAddFields {
				return 0, fmt.Errorf("%w: %s type %q does not declare property %q",
					ErrTypeAlreadyExists, r.kind, r.name, name)
			}
			added = append(added, name)
			continue
		}
		if have != t {
			return 0, fmt.Errorf("%w: %s type %q declares property %q as %s, not %s",
				ErrTypeAlreadyExists, r.kind, r.name, name, have, t)
		}
	}
	if !r.canOmitField {
		for name := range existing {
			if _, ok := r.properties[name]; !ok {
				return 0, fmt.Errorf("%w: %s type %q declares property %q, which the request omits",
					ErrTypeAlreadyExists, r.kind, r.name, name)
			}
		}
	}

	sort.Strings(added)
	for _, name := range added {
		if _, err := tx.ExecContext(ctx, s.qb.InsertTypeProperty(), id, name, int32(r.properties[name])); err != nil {
			return 0, fmt.Errorf("add property %q to type %q: %w", name, r.name, err)
		}
	}
	return metadata.TypeID(id), nil
}

func (s *Store) insertType(ctx context.Context, tx *sql.Tx, r *PutTypeRequest) (metadata.TypeID, error) {
	if _, err := tx.ExecContext(ctx, s.qb.InsertType(), r.name, int32(r.kind)); err != nil {
		return 0, fmt.Errorf("insert type %q: %w", r.name, err)
	}
	var id int32
	if err := tx.QueryRowContext(ctx, s.qb.LastTypeID()).Scan(&id); err != nil {
		return 0, fmt.Errorf("read back type id: %w", err)
	}

	names := make([]string, 0, len(r.properties))
	for name := range r.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, s.qb.InsertTypeProperty(), id, name, int32(r.properties[name])); err != nil {
			return 0, fmt.Errorf("insert property %q of type %q: %w", name, r.name, err)
		}
	}
	return metadata.TypeID(id), nil
}

func (s *Store) typeProperties(ctx context.Context, q dbtx, typeID int32) (metadata.PropertyTypes, error) {
	rows, err := q.QueryContext(ctx, s.qb.SelectTypeProperties(), typeID)
	if err != nil {
		return nil, fmt.Errorf("read type properties: %w", err)
	}
	defer rows.Close()

	props := metadata.PropertyTypes{}
	for rows.Next() {
		var (
			name     string
			dataType int32
		)
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("read type properties: %w", err)
		}
		t, err := metadata.PropertyTypeFromInt(dataType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConvert, err)
		}
		props[name] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read type properties: %w", err)
	}
	return props, nil
}

// GetTypesRequest reads registered types of one kind. Construct with
// GetArtifactTypes, GetExecutionTypes or GetContextTypes.
type GetTypesRequest struct {
	store *Store
	kind  metadata.Kind
	name  *string
	ids   []int32
}

func (s *Store) getTypesRequest(kind metadata.Kind) *GetTypesRequest {
	return &GetTypesRequest{store: s, kind: kind}
}

// GetArtifactTypes reads artifact types.
func (s *Store) GetArtifactTypes() *GetTypesRequest {
	return s.getTypesRequest(metadata.KindArtifact)
}

// GetExecutionTypes reads execution types.
func (s *Store) GetExecutionTypes() *GetTypesRequest {
	return s.getTypesRequest(metadata.KindExecution)
}

// GetContextTypes reads context types.
func (s *Store) GetContextTypes() *GetTypesRequest {
	return s.getTypesRequest(metadata.KindContext)
}

// Name restricts the read to the type with the given name.
func (r *GetTypesRequest) Name(name string) *GetTypesRequest {
	r.name = &name
	return r
}

// IDs restricts the read to the given type ids.
func (r *GetTypesRequest) IDs(ids ...metadata.TypeID) *GetTypesRequest {
	for _, id := range ids {
		r.ids = append(r.ids, int32(id))
	}
	return r
}

// Execute returns the matching types in id order.
func (r *GetTypesRequest) Execute(ctx context.Context) ([]metadata.Type, error) {
	s := r.store
	ctx, done := s.ops.Start(ctx, "GetTypes",
		attribute.String("mlmd.type.kind", r.kind.String()),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	types, err := s.getTypes(ctx, r)
	done(err)
	return types, err
}

func (s *Store) getTypes(ctx context.Context, r *GetTypesRequest) ([]metadata.Type, error) {
	var filter query.TypeFilter
	filter.Name = r.name
	filter.IDs = r.ids
	sqlText, args := s.qb.SelectTypes(filter)
	rows, err := s.db.QueryContext(ctx, sqlText, append([]any{int32(r.kind)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("read types: %w", err)
	}

	var types []metadata.Type
	index := map[int32]int{}
	for rows.Next() {
		var (
			id   int32
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("read types: %w", err)
		}
		index[id] = len(types)
		types = append(types, metadata.Type{
			ID:         metadata.TypeID(id),
			Kind:       r.kind,
			Name:       name,
			Properties: metadata.PropertyTypes{},
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("read types: %w", err)
	}
	rows.Close()
	if len(types) == 0 {
		return nil, nil
	}

	// Second pass: attach declared properties. The whole table is read and
	// rows for unselected types are skipped.
	props, err := s.db.QueryContext(ctx, s.qb.SelectAllTypeProperties())
	if err != nil {
		return nil, fmt.Errorf("read type properties: %w", err)
	}
	defer props.Close()
	for props.Next() {
		var (
			typeID   int32
			name     string
			dataType int32
		)
		if err := props.Scan(&typeID, &name, &dataType); err != nil {
			return nil, fmt.Errorf("read type properties: %w", err)
		}
		i, ok := index[typeID]
		if !ok {
			continue
		}
		t, err := metadata.PropertyTypeFromInt(dataType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConvert, err)
		}
		types[i].Properties[name] = t
	}
	if err := props.Err(); err != nil {
		return nil, fmt.Errorf("read type properties: %w", err)
	}
	return types, nil
}

// GetArtifactType returns the artifact type named name, or ErrTypeNotFound.
func (s *Store) GetArtifactType(ctx context.Context, name string) (metadata.Type, error) {
	return s.singleType(ctx, s.GetArtifactTypes().Name(name))
}

// GetExecutionType returns the execution type named name, or ErrTypeNotFound.
func (s *Store) GetExecutionType(ctx context.Context, name string) (metadata.Type, error) {
	return s.singleType(ctx, s.GetExecutionTypes().Name(name))
}

// GetContextType returns the context type named name, or ErrTypeNotFound.
func (s *Store) GetContextType(ctx context.Context, name string) (metadata.Type, error) {
	return s.singleType(ctx, s.GetContextTypes().Name(name))
}

func (s *Store) singleType(ctx context.Context, r *GetTypesRequest) (metadata.Type, error) {
	types, err := r.Execute(ctx)
	if err != nil {
		return metadata.Type{}, err
	}
	if len(types) == 0 {
		return metadata.Type{}, fmt.Errorf("%w: %s type %q", ErrTypeNotFound, r.kind, *r.name)
	}
	return types[0], nil
}
