package mlmd

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/sile/mlmd-go/internal/query"
	"github.com/sile/mlmd-go/metadata"
)

// OrderByField selects the column an item read is sorted by.
type OrderByField int

// Sortable fields of item reads.
const (
	OrderByID OrderByField = iota
	OrderByCreateTime
	OrderByUpdateTime
)

func (f OrderByField) column() string {
	switch f {
	case OrderByCreateTime:
		return "create_time_since_epoch"
	case OrderByUpdateTime:
		return "last_update_time_since_epoch"
	default:
		return "id"
	}
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// itemRow is the backend-shaped form of an artifact, execution or context,
// before conversion into its domain type.
type itemRow struct {
	id               int32
	typeID           int32
	name             *string
	uri              *string
	state            *int32
	createMillis     int64
	updateMillis     int64
	properties       metadata.PropertyValues
	customProperties metadata.PropertyValues
}

// itemDraft carries the caller-supplied fields of a post or put.
type itemDraft struct {
	name             *string
	uri              *string
	state            *int32
	properties       metadata.PropertyValues
	customProperties metadata.PropertyValues
}

// postItem creates an item of the given type and returns its id.
// The whole write (name check, insert, id readback, property upserts) runs
// in one transaction; the single store connection makes the
// latest-id readback safe.
func (s *Store) postItem(ctx context.Context, table query.ItemTable, kind metadata.Kind, typeID metadata.TypeID, d itemDraft) (int32, error) {
	declared, err := s.declaredProperties(ctx, kind, typeID)
	if err != nil {
		return 0, err
	}
	if err := validateProperties(declared, d.properties); err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	var id int32
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if d.name != nil {
			var n int
			if err := tx.QueryRowContext(ctx, s.qb.CheckItemName(table), int32(typeID), *d.name).Scan(&n); err != nil {
				return fmt.Errorf("check %s name: %w", kind, err)
			}
			if n > 0 {
				return fmt.Errorf("%w: %s named %q with type id %d", ErrNameAlreadyExists, kind, *d.name, typeID)
			}
		}

		insert, args := s.qb.InsertItem(table, query.ItemValues{
			TypeID:           int32(typeID),
			State:            d.state,
			CreateTimeMillis: now,
			UpdateTimeMillis: now,
			Name:             d.name,
			URI:              d.uri,
		})
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
		if err := tx.QueryRowContext(ctx, s.qb.LastItemID(table)).Scan(&id); err != nil {
			return fmt.Errorf("read back %s id: %w", kind, err)
		}
		return s.upsertProperties(ctx, tx, table, id, d)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// putItem updates an existing item. Supplied fields overwrite; absent
// fields keep their stored values; supplied properties upsert into the
// stored property set.
func (s *Store) putItem(ctx context.Context, table query.ItemTable, kind metadata.Kind, id int32, d itemDraft) error {
	var typeID int32
	err := s.db.QueryRowContext(ctx, s.qb.SelectItemTypeID(table), id).Scan(&typeID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}
	if err != nil {
		return fmt.Errorf("look up %s %d: %w", kind, id, err)
	}

	declared, err := s.declaredProperties(ctx, kind, metadata.TypeID(typeID))
	if err != nil {
		return err
	}
	if err := validateProperties(declared, d.properties); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if d.name != nil {
			var n int
			if err := tx.QueryRowContext(ctx, s.qb.CheckItemNameExcluding(table), typeID, *d.name, id).Scan(&n); err != nil {
				return fmt.Errorf("check %s name: %w", kind, err)
			}
			if n > 0 {
				return fmt.Errorf("%w: %s named %q with type id %d", ErrNameAlreadyExists, kind, *d.name, typeID)
			}
		}

		update, args := s.qb.UpdateItem(table, id, query.ItemUpdates{
			State:            d.state,
			Name:             d.name,
			URI:              d.uri,
			UpdateTimeMillis: time.Now().UnixMilli(),
		})
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("update %s %d: %w", kind, id, err)
		}
		return s.upsertProperties(ctx, tx, table, id, d)
	})
}

// declaredProperties resolves the schema of typeID, verifying the type
// exists with the expected kind.
func (s *Store) declaredProperties(ctx context.Context, kind metadata.Kind, typeID metadata.TypeID) (metadata.PropertyTypes, error) {
	sqlText, args := s.qb.SelectTypes(query.TypeFilter{IDs: []int32{int32(typeID)}})
	rows, err := s.db.QueryContext(ctx, sqlText, append([]any{int32(kind)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("look up type %d: %w", typeID, err)
	}
	found := rows.Next()
	closeErr := rows.Close()
	if !found {
		if closeErr != nil {
			return nil, fmt.Errorf("look up type %d: %w", typeID, closeErr)
		}
		return nil, fmt.Errorf("%w: %s type id %d", ErrTypeNotFound, kind, typeID)
	}
	return s.typeProperties(ctx, s.db, int32(typeID))
}

func validateProperties(declared metadata.PropertyTypes, props metadata.PropertyValues) error {
	for name, v := range props {
		t, ok := declared[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUndefinedProperty, name)
		}
		if t != v.Type() {
			return fmt.Errorf("%w: %q is declared %s, got %s", ErrUndefinedProperty, name, t, v.Type())
		}
	}
	return nil
}

// upsertProperties writes the declared and custom property values of d,
// one upsert per property, in name order.
func (s *Store) upsertProperties(ctx context.Context, tx *sql.Tx, table query.ItemTable, id int32, d itemDraft) error {
	for _, custom := range []bool{false, true} {
		props := d.properties
		if custom {
			props = d.customProperties
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := props[name]
			raw := propertyBind(v)
			isCustom := int32(0)
			if custom {
				isCustom = 1
			}
			sqlText := s.qb.UpsertItemProperty(table, v.Type())
			if _, err := tx.ExecContext(ctx, sqlText, id, name, isCustom, raw, raw); err != nil {
				return fmt.Errorf("upsert property %q: %w", name, err)
			}
		}
	}
	return nil
}

func propertyBind(v metadata.PropertyValue) any {
	if i, ok := v.AsInt(); ok {
		return i
	}
	if d, ok := v.AsDouble(); ok {
		return d
	}
	s, _ := v.AsString()
	return s
}

// getItems reads the items matching f together with their properties.
func (s *Store) getItems(ctx context.Context, table query.ItemTable, f query.ItemFilter) ([]itemRow, error) {
	sqlText, args := s.qb.SelectItems(table, f)
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s rows: %w", table.Name, err)
	}

	var items []itemRow
	index := map[int32]int{}
	for rows.Next() {
		var (
			it   itemRow
			name sql.NullString
			uri  sql.NullString
		)
		dest := []any{&it.id, &it.typeID, &name}
		if table.HasURI {
			dest = append(dest, &uri)
		}
		if table.StateColumn != "" {
			dest = append(dest, &it.state)
		}
		dest = append(dest, &it.createMillis, &it.updateMillis)
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("read %s rows: %w", table.Name, err)
		}
		// Relation joins can yield the same item once per matching edge.
		if _, ok := index[it.id]; ok {
			continue
		}
		if name.Valid && name.String != "" {
			it.name = &name.String
		}
		if uri.Valid && uri.String != "" {
			it.uri = &uri.String
		}
		it.properties = metadata.PropertyValues{}
		it.customProperties = metadata.PropertyValues{}
		index[it.id] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("read %s rows: %w", table.Name, err)
	}
	rows.Close()
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]int32, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	props, err := s.db.QueryContext(ctx, s.qb.SelectItemProperties(table, len(ids)), idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("read %s properties: %w", table.Name, err)
	}
	defer props.Close()
	for props.Next() {
		var (
			itemID   int32
			name     string
			isCustom int32
			intVal   *int32
			dblVal   *float64
			strVal   *string
		)
		if err := props.Scan(&itemID, &name, &isCustom, &intVal, &dblVal, &strVal); err != nil {
			return nil, fmt.Errorf("read %s properties: %w", table.Name, err)
		}
		v, err := decodePropertyValue(intVal, dblVal, strVal)
		if err != nil {
			return nil, fmt.Errorf("property %q of %s %d: %w", name, table.Name, itemID, err)
		}
		i, ok := index[itemID]
		if !ok {
			continue
		}
		if isCustom != 0 {
			items[i].customProperties[name] = v
		} else {
			items[i].properties[name] = v
		}
	}
	if err := props.Err(); err != nil {
		return nil, fmt.Errorf("read %s properties: %w", table.Name, err)
	}
	return items, nil
}

// countItems is the counting twin of getItems.
func (s *Store) countItems(ctx context.Context, table query.ItemTable, f query.ItemFilter) (int, error) {
	sqlText, args := s.qb.CountItems(table, f)
	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", table.Name, err)
	}
	return n, nil
}

// decodePropertyValue requires exactly one of the three value columns to be
// set, matching how property upserts null out the unused columns.
func decodePropertyValue(i *int32, d *float64, s *string) (metadata.PropertyValue, error) {
	set := 0
	var v metadata.PropertyValue
	if i != nil {
		set++
		v = metadata.IntValue(*i)
	}
	if d != nil {
		set++
		v = metadata.DoubleValue(*d)
	}
	if s != nil {
		set++
		v = metadata.StringValue(*s)
	}
	if set != 1 {
		return metadata.PropertyValue{}, fmt.Errorf("%w: %d of int/double/string values set", ErrConvert, set)
	}
	return v, nil
}

func idArgs(ids []int32) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
