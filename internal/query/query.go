// Package query generates the SQL executed by the metadata store.
//
// A single Builder value emits every statement the store needs, in the
// dialect of the chosen back-end. Statements that take bind parameters are
// produced together with their ordered bind values by the same function,
// so the placeholder list and the value list can never drift apart.
//
// The DDL in sqlite.go and mysql.go reproduces schema version 6 of
// ml-metadata and is a compatibility boundary: column names, types,
// uniqueness constraints and indexes must not change.
package query

import (
	"fmt"
	"strings"

	"github.com/sile/mlmd-go/metadata"
)

// Dialect selects the SQL flavor emitted by a Builder.
type Dialect int

const (
	// SQLite emits SQLite-flavored SQL.
	SQLite Dialect = iota
	// MySQL emits MySQL-flavored SQL.
	MySQL
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Builder emits SQL statements for one dialect.
type Builder struct {
	dialect Dialect
}

// New returns a Builder for the given dialect.
func New(d Dialect) Builder {
	return Builder{dialect: d}
}

// Dialect returns the dialect this builder emits.
func (b Builder) Dialect() Dialect {
	return b.dialect
}

// CreateStatements returns the ordered DDL for schema version 6.
// Each statement is idempotent on SQLite; on MySQL the trailing
// ALTER TABLE ... ADD INDEX statements assume a fresh database, which is
// the only situation the bootstrapper runs them in.
func (b Builder) CreateStatements() []string {
	if b.dialect == MySQL {
		return mysqlDDL
	}
	return sqliteDDL
}

// SelectSchemaVersion reads the MLMDEnv rows.
func (b Builder) SelectSchemaVersion() string {
	return "SELECT schema_version FROM MLMDEnv"
}

// InsertSchemaVersion inserts the schema version row. Binds: (version).
func (b Builder) InsertSchemaVersion() string {
	return "INSERT INTO MLMDEnv VALUES (?)"
}

// ItemTable describes one of the three item tables and its property table.
type ItemTable struct {
	Name          string // item table, e.g. "Artifact"
	PropertyTable string // property table, e.g. "ArtifactProperty"
	RefColumn     string // property-table FK column, e.g. "artifact_id"
	StateColumn   string // state column; empty for Context
	HasURI        bool
}

// The three item tables of the version-6 schema.
var (
	ArtifactTable = ItemTable{
		Name:          "Artifact",
		PropertyTable: "ArtifactProperty",
		RefColumn:     "artifact_id",
		StateColumn:   "state",
		HasURI:        true,
	}
	ExecutionTable = ItemTable{
		Name:          "Execution",
		PropertyTable: "ExecutionProperty",
		RefColumn:     "execution_id",
		StateColumn:   "last_known_state",
	}
	ContextTable = ItemTable{
		Name:          "Context",
		PropertyTable: "ContextProperty",
		RefColumn:     "context_id",
	}
)

// relationTable returns the context-membership table joining t to Context.
func (t ItemTable) relationTable() string {
	if t.Name == "Execution" {
		return "Association"
	}
	return "Attribution"
}

// Columns returns the SELECT column list for the item table, in the order
// the store scans them: id, type_id, name, [uri], [state], create, update.
func (t ItemTable) Columns(prefix string) string {
	cols := []string{"id", "type_id", "name"}
	if t.HasURI {
		cols = append(cols, "uri")
	}
	if t.StateColumn != "" {
		cols = append(cols, t.StateColumn)
	}
	cols = append(cols, "create_time_since_epoch", "last_update_time_since_epoch")
	for i, c := range cols {
		cols[i] = prefix + "." + c
	}
	return strings.Join(cols, ", ")
}

// ItemValues carries the column values for an item INSERT.
// Name and URI columns are written only when non-nil.
type ItemValues struct {
	TypeID           int32
	State            *int32
	CreateTimeMillis int64
	UpdateTimeMillis int64
	Name             *string
	URI              *string
}

// InsertItem builds the variable-column INSERT for an item row.
// Bind order follows the canonical column order:
// type_id, [state], create_time, last_update_time, [name], [uri].
func (b Builder) InsertItem(t ItemTable, v ItemValues) (string, []any) {
	cols := []string{"type_id"}
	args := []any{v.TypeID}
	if t.StateColumn != "" {
		cols = append(cols, t.StateColumn)
		state := int32(0)
		if v.State != nil {
			state = *v.State
		}
		args = append(args, state)
	}
	cols = append(cols, "create_time_since_epoch", "last_update_time_since_epoch")
	args = append(args, v.CreateTimeMillis, v.UpdateTimeMillis)
	if v.Name != nil {
		cols = append(cols, "name")
		args = append(args, *v.Name)
	}
	if t.HasURI && v.URI != nil {
		cols = append(cols, "uri")
		args = append(args, *v.URI)
	}
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols)),
	)
	return sql, args
}

// ItemUpdates carries the column values for an item UPDATE.
// Only non-nil fields appear in the SET clause; last_update_time_since_epoch
// is always set.
type ItemUpdates struct {
	State            *int32
	Name             *string
	URI              *string
	UpdateTimeMillis int64
}

// UpdateItem builds the variable-column UPDATE for an item row.
// Binds follow SET-clause order, with the row id last for the WHERE clause.
func (b Builder) UpdateItem(t ItemTable, id int32, u ItemUpdates) (string, []any) {
	var set []string
	var args []any
	if t.StateColumn != "" && u.State != nil {
		set = append(set, t.StateColumn+" = ?")
		args = append(args, *u.State)
	}
	if u.Name != nil {
		set = append(set, "name = ?")
		args = append(args, *u.Name)
	}
	if t.HasURI && u.URI != nil {
		set = append(set, "uri = ?")
		args = append(args, *u.URI)
	}
	set = append(set, "last_update_time_since_epoch = ?")
	args = append(args, u.UpdateTimeMillis)
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.Name, strings.Join(set, ", "))
	return sql, args
}

// CheckItemName counts rows that would collide with a new (type_id, name)
// pair. Binds: (type_id, name).
func (b Builder) CheckItemName(t ItemTable) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE type_id = ? AND name = ?", t.Name)
}

// CheckItemNameExcluding is CheckItemName for updates, excluding the row
// being updated. Binds: (type_id, name, id).
func (b Builder) CheckItemNameExcluding(t ItemTable) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE type_id = ? AND name = ? AND id != ?", t.Name)
}

// SelectItemTypeID reads the type of an existing item row. Binds: (id).
func (b Builder) SelectItemTypeID(t ItemTable) string {
	return fmt.Sprintf("SELECT type_id FROM %s WHERE id = ?", t.Name)
}

// LastItemID reads back the id assigned by the most recent INSERT.
// Only valid inside the inserting transaction.
func (b Builder) LastItemID(t ItemTable) string {
	return fmt.Sprintf("SELECT id FROM %s ORDER BY id DESC LIMIT 1", t.Name)
}

// UpsertItemProperty builds the per-property UPSERT. The two value columns
// not matching valueType are written as literal NULL so that no unbound
// placeholder is sent; the bound value triple therefore collapses to one
// parameter in VALUES and one in the UPDATE clause.
// Binds: (item_id, name, is_custom_property, value, value).
func (b Builder) UpsertItemProperty(t ItemTable, valueType metadata.PropertyType) string {
	vals := [3]string{"NULL", "NULL", "NULL"}
	switch valueType {
	case metadata.PropertyTypeInt:
		vals[0] = "?"
	case metadata.PropertyTypeDouble:
		vals[1] = "?"
	case metadata.PropertyTypeString:
		vals[2] = "?"
	}
	head := fmt.Sprintf(
		"INSERT INTO %s (%s, name, is_custom_property, int_value, double_value, string_value) VALUES (?, ?, ?, %s, %s, %s)",
		t.PropertyTable, t.RefColumn, vals[0], vals[1], vals[2],
	)
	set := fmt.Sprintf(
		"int_value = %s, double_value = %s, string_value = %s",
		vals[0], vals[1], vals[2],
	)
	if b.dialect == MySQL {
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", head, set)
	}
	return fmt.Sprintf(
		"%s ON CONFLICT (%s, name, is_custom_property) DO UPDATE SET %s",
		head, t.RefColumn, set,
	)
}

// SelectItemProperties reads every property row for the given item ids.
// Binds: the n item ids.
func (b Builder) SelectItemProperties(t ItemTable, n int) string {
	return fmt.Sprintf(
		"SELECT %s, name, is_custom_property, int_value, double_value, string_value FROM %s WHERE %s IN (%s)",
		t.RefColumn, t.PropertyTable, t.RefColumn, placeholders(n),
	)
}

// TimeRange restricts a millisecond timestamp column to [Start, End).
// Either bound may be nil for a half-open range.
type TimeRange struct {
	Start *int64
	End   *int64
}

// ItemFilter carries the filter options of an item SELECT.
// All set filters are AND-composed.
type ItemFilter struct {
	TypeName    *string
	Name        *string
	NamePattern *string // SQL LIKE pattern; mutually exclusive with Name
	IDs         []int32
	URI         *string

	// ContextID filters artifacts (via Attribution) or executions
	// (via Association) by membership in a context.
	ContextID *int32

	// ArtifactIDs and ExecutionIDs filter contexts by attributed
	// artifacts and associated executions.
	ArtifactIDs  []int32
	ExecutionIDs []int32

	CreateTime *TimeRange
	UpdateTime *TimeRange

	OrderBy string // column of the item table; defaults to id
	Desc    bool
	Limit   *int
	Offset  *int // no effect without Limit
}

// SelectItems builds the filtered item SELECT, joining Type and the
// relation tables as needed.
func (b Builder) SelectItems(t ItemTable, f ItemFilter) (string, []any) {
	sql, args := b.selectItemsFrom(t, f, t.Columns("T"))
	field := f.OrderBy
	if field == "" {
		field = "id"
	}
	sql += " ORDER BY T." + field
	if f.Desc {
		sql += " DESC"
	}
	if f.Limit != nil {
		sql += " LIMIT ?"
		args = append(args, *f.Limit)
		if f.Offset != nil {
			sql += " OFFSET ?"
			args = append(args, *f.Offset)
		}
	}
	return sql, args
}

// CountItems builds the counting twin of SelectItems. Relation joins can
// match an item more than once, so their presence switches the count to
// distinct item ids.
func (b Builder) CountItems(t ItemTable, f ItemFilter) (string, []any) {
	columns := "count(*)"
	if f.ContextID != nil || len(f.ArtifactIDs) > 0 || len(f.ExecutionIDs) > 0 {
		columns = "count(DISTINCT T.id)"
	}
	return b.selectItemsFrom(t, f, columns)
}

func (b Builder) selectItemsFrom(t ItemTable, f ItemFilter, columns string) (string, []any) {
	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s AS T", columns, t.Name)

	var conds []string
	if f.TypeName != nil {
		sb.WriteString(" JOIN Type ON T.type_id = Type.id")
		conds = append(conds, "Type.name = ?")
		args = append(args, *f.TypeName)
	}
	if f.ContextID != nil {
		rel := t.relationTable()
		fmt.Fprintf(&sb, " JOIN %s AS R ON R.%s = T.id", rel, t.RefColumn)
		conds = append(conds, "R.context_id = ?")
		args = append(args, *f.ContextID)
	}
	if len(f.ArtifactIDs) > 0 {
		sb.WriteString(" JOIN Attribution AS AT ON AT.context_id = T.id")
		conds = append(conds, fmt.Sprintf("AT.artifact_id IN (%s)", placeholders(len(f.ArtifactIDs))))
		args = appendIDs(args, f.ArtifactIDs)
	}
	if len(f.ExecutionIDs) > 0 {
		sb.WriteString(" JOIN Association AS AS1 ON AS1.context_id = T.id")
		conds = append(conds, fmt.Sprintf("AS1.execution_id IN (%s)", placeholders(len(f.ExecutionIDs))))
		args = appendIDs(args, f.ExecutionIDs)
	}
	if f.Name != nil {
		conds = append(conds, "T.name = ?")
		args = append(args, *f.Name)
	}
	if f.NamePattern != nil {
		conds = append(conds, "T.name LIKE ?")
		args = append(args, *f.NamePattern)
	}
	if len(f.IDs) > 0 {
		conds = append(conds, fmt.Sprintf("T.id IN (%s)", placeholders(len(f.IDs))))
		args = appendIDs(args, f.IDs)
	}
	if t.HasURI && f.URI != nil {
		conds = append(conds, "T.uri = ?")
		args = append(args, *f.URI)
	}
	conds, args = appendTimeRange(conds, args, "T.create_time_since_epoch", f.CreateTime)
	conds, args = appendTimeRange(conds, args, "T.last_update_time_since_epoch", f.UpdateTime)

	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	return sb.String(), args
}

// Type registry statements.

// InsertType inserts a Type row. Binds: (name, type_kind).
func (b Builder) InsertType() string {
	return "INSERT INTO Type (name, type_kind) VALUES (?, ?)"
}

// LastTypeID reads back the id of the most recently inserted Type.
func (b Builder) LastTypeID() string {
	return "SELECT id FROM Type ORDER BY id DESC LIMIT 1"
}

// SelectTypeIDByName resolves a (kind, name) pair. Binds: (type_kind, name).
func (b Builder) SelectTypeIDByName() string {
	return "SELECT id FROM Type WHERE type_kind = ? AND name = ?"
}

// TypeFilter carries the filter options of a types read.
type TypeFilter struct {
	Name *string
	IDs  []int32
}

// SelectTypes builds the filtered Type SELECT for one kind.
func (b Builder) SelectTypes(f TypeFilter) (string, []any) {
	sql := "SELECT id, name FROM Type WHERE type_kind = ?"
	args := []any{}
	if f.Name != nil {
		sql += " AND name = ?"
		args = append(args, *f.Name)
	}
	if len(f.IDs) > 0 {
		sql += fmt.Sprintf(" AND id IN (%s)", placeholders(len(f.IDs)))
		args = appendIDs(args, f.IDs)
	}
	sql += " ORDER BY id"
	return sql, args
}

// SelectAllTypeProperties reads the whole TypeProperty table; the caller
// attaches rows to the types it selected.
func (b Builder) SelectAllTypeProperties() string {
	return "SELECT type_id, name, data_type FROM TypeProperty"
}

// SelectTypeProperties reads the properties of one type. Binds: (type_id).
func (b Builder) SelectTypeProperties() string {
	return "SELECT name, data_type FROM TypeProperty WHERE type_id = ?"
}

// InsertTypeProperty inserts one declared property.
// Binds: (type_id, name, data_type).
func (b Builder) InsertTypeProperty() string {
	return "INSERT INTO TypeProperty (type_id, name, data_type) VALUES (?, ?, ?)"
}

// Relation statements.

// insertIgnore is the dialect prefix for duplicate-tolerant inserts.
func (b Builder) insertIgnore() string {
	if b.dialect == MySQL {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

// InsertAttribution inserts a context/artifact edge, silently ignoring
// duplicates. Binds: (context_id, artifact_id).
func (b Builder) InsertAttribution() string {
	return b.insertIgnore() + " INTO Attribution (context_id, artifact_id) VALUES (?, ?)"
}

// InsertAssociation inserts a context/execution edge, silently ignoring
// duplicates. Binds: (context_id, execution_id).
func (b Builder) InsertAssociation() string {
	return b.insertIgnore() + " INTO Association (context_id, execution_id) VALUES (?, ?)"
}

// CountRowsByID checks row existence. Binds: (id).
func (b Builder) CountRowsByID(table string) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE id = ?", table)
}

// Event statements.

// InsertEvent inserts an Event row.
// Binds: (artifact_id, execution_id, type, milliseconds_since_epoch).
func (b Builder) InsertEvent() string {
	return "INSERT INTO Event (artifact_id, execution_id, type, milliseconds_since_epoch) VALUES (?, ?, ?, ?)"
}

// LastEventID reads back the id of the most recently inserted Event.
// Only valid inside the inserting transaction.
func (b Builder) LastEventID() string {
	return "SELECT id FROM Event ORDER BY id DESC LIMIT 1"
}

// InsertEventPathIndex inserts an index step. Binds: (event_id, step_index).
func (b Builder) InsertEventPathIndex() string {
	return "INSERT INTO EventPath (event_id, is_index_step, step_index) VALUES (?, 1, ?)"
}

// InsertEventPathKey inserts a key step. Binds: (event_id, step_key).
func (b Builder) InsertEventPathKey() string {
	return "INSERT INTO EventPath (event_id, is_index_step, step_key) VALUES (?, 0, ?)"
}

// SelectEventPaths reads the path steps of the given events, in insertion
// order. Binds: the n event ids.
func (b Builder) SelectEventPaths(n int) string {
	return fmt.Sprintf(
		"SELECT event_id, is_index_step, step_index, step_key FROM EventPath WHERE event_id IN (%s)",
		placeholders(n),
	)
}

// EventFilter carries the filter options of an events read. Unlike item
// filters, the artifact and execution id sets are OR-composed.
type EventFilter struct {
	ArtifactIDs  []int32
	ExecutionIDs []int32
	OrderBy      string // defaults to id
	Desc         bool
	Limit        *int
	Offset       *int
}

// SelectEvents builds the filtered Event SELECT.
func (b Builder) SelectEvents(f EventFilter) (string, []any) {
	sql, args := b.selectEventsFrom(f, "id, artifact_id, execution_id, type, milliseconds_since_epoch")
	field := f.OrderBy
	if field == "" {
		field = "id"
	}
	sql += " ORDER BY " + field
	if f.Desc {
		sql += " DESC"
	}
	if f.Limit != nil {
		sql += " LIMIT ?"
		args = append(args, *f.Limit)
		if f.Offset != nil {
			sql += " OFFSET ?"
			args = append(args, *f.Offset)
		}
	}
	return sql, args
}

// CountEvents builds the counting twin of SelectEvents.
func (b Builder) CountEvents(f EventFilter) (string, []any) {
	return b.selectEventsFrom(f, "count(*)")
}

func (b Builder) selectEventsFrom(f EventFilter, columns string) (string, []any) {
	sql := fmt.Sprintf("SELECT %s FROM Event", columns)
	var ors []string
	var args []any
	if len(f.ArtifactIDs) > 0 {
		ors = append(ors, fmt.Sprintf("artifact_id IN (%s)", placeholders(len(f.ArtifactIDs))))
		args = appendIDs(args, f.ArtifactIDs)
	}
	if len(f.ExecutionIDs) > 0 {
		ors = append(ors, fmt.Sprintf("execution_id IN (%s)", placeholders(len(f.ExecutionIDs))))
		args = appendIDs(args, f.ExecutionIDs)
	}
	if len(ors) > 0 {
		sql += " WHERE " + strings.Join(ors, " OR ")
	}
	return sql, args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func appendIDs(args []any, ids []int32) []any {
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func appendTimeRange(conds []string, args []any, column string, r *TimeRange) ([]string, []any) {
	if r == nil {
		return conds, args
	}
	if r.Start != nil {
		conds = append(conds, column+" >= ?")
		args = append(args, *r.Start)
	}
	if r.End != nil {
		conds = append(conds, column+" < ?")
		args = append(args, *r.End)
	}
	return conds, args
}
