package models

// ColumnType is the storage-independent type of a column.
// Dialects decide the concrete SQL type.
type ColumnType int

const (
	TypeInteger ColumnType = iota
	TypeString
	TypeDecimal
	TypeDateTime
)

// Column describes one mapped column.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Index      bool

	// Default is a literal SQL default expression, empty for none.
	Default string
}

// ForeignKey links a column to the primary key of another table.
// No ON DELETE action is declared.
type ForeignKey struct {
	Column string
	Table  string
	Ref    string
}

// Table is the explicit mapping of an entity to a table.
type Table struct {
	Name        string
	Columns     []Column
	Unique      [][]string
	ForeignKeys []ForeignKey
}

// ColumnNames returns the names of all columns in mapping order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Record is implemented by every mapped entity.
type Record interface {
	// Table returns the mapping for the entity.
	Table() *Table

	// Identity returns the shared id/created fields.
	Identity() *Base

	// Values returns bind values for every column except the primary key,
	// in mapping order.
	Values() []any

	// Targets returns scan destinations for every column, in mapping order.
	Targets() []any
}

// baseColumns are shared by every table.
var baseColumns = []Column{
	{Name: "id", Type: TypeInteger, PrimaryKey: true},
	{Name: "created", Type: TypeDateTime, NotNull: true, Index: true, Default: "CURRENT_TIMESTAMP"},
}

var softDeleteColumns = []Column{
	{Name: "deleted", Type: TypeDateTime, Index: true},
}

func columns(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var (
	UserTable = &Table{
		Name: "user",
		Columns: columns(baseColumns, []Column{
			{Name: "email", Type: TypeString, Unique: true},
			{Name: "password_hash", Type: TypeString, NotNull: true},
		}),
	}

	PersonTable = &Table{
		Name: "person",
		Columns: columns(baseColumns, softDeleteColumns, []Column{
			{Name: "name", Type: TypeString, NotNull: true, Index: true},
			{Name: "balance", Type: TypeDecimal, NotNull: true, Default: "'0'"},
			{Name: "user_id", Type: TypeInteger, NotNull: true},
		}),
		Unique:      [][]string{{"user_id", "name"}},
		ForeignKeys: []ForeignKey{{Column: "user_id", Table: "user", Ref: "id"}},
	}

	OperationTable = &Table{
		Name: "operation",
		Columns: columns(baseColumns, softDeleteColumns, []Column{
			{Name: "value", Type: TypeDecimal, NotNull: true},
			{Name: "description", Type: TypeString, NotNull: true},
			{Name: "person_id", Type: TypeInteger, NotNull: true},
		}),
		ForeignKeys: []ForeignKey{{Column: "person_id", Table: "person", Ref: "id"}},
	}
)

// Schema lists all tables in creation order (parents before children).
var Schema = []*Table{UserTable, PersonTable, OperationTable}
