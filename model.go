package echorm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"echorm/internal/naming"
)

// Tabler overrides the derived table name for a model.
type Tabler interface {
	TableName() string
}

// Binder routes a model to a named bind instead of the default engine.
type Binder interface {
	BindKey() string
}

// Column describes one mapped struct field.
type Column struct {
	// Name is the column name in the database.
	Name string
	// Index is the reflect field index path, including embedded hops.
	Index []int
	// GoType is the field's Go type.
	GoType reflect.Type
	// PrimaryKey marks the table's primary key column.
	PrimaryKey bool
	// AutoIncrement marks a database-generated integer key.
	AutoIncrement bool
	// Size is the optional length hint for string columns.
	Size int
}

// TableInfo holds the metadata derived from a registered model type.
type TableInfo struct {
	// Name is the table name without schema qualification.
	Name string
	// GoType is the registered struct type (not the pointer type).
	GoType reflect.Type
	// Columns lists mapped columns in field order.
	Columns []*Column
	// PK is the primary key column. Composite keys are not supported.
	PK *Column
	// BindKey selects the engine; empty means the default engine.
	BindKey string
	// Schema is the optional schema prefix inherited from the metadata.
	Schema string
}

// QualifiedName returns the table name with the schema prefix when one is
// configured on the metadata.
func (t *TableInfo) QualifiedName() string {
	if t.Schema != "" {
		return t.Schema + "." + t.Name
	}
	return t.Name
}

// Column returns the column with the given name, or nil.
func (t *TableInfo) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// fieldValue resolves the struct field a column maps to. v must be the
// addressable struct value.
func (c *Column) fieldValue(v reflect.Value) reflect.Value {
	return v.FieldByIndex(c.Index)
}

// Metadata is the registry mapping Go model types to table metadata. A DB
// owns one; a custom Metadata (for a schema prefix) can be supplied with
// WithMetadata.
type Metadata struct {
	mu     sync.RWMutex
	tables map[reflect.Type]*TableInfo
	schema string
}

// NewMetadata creates an empty registry. schema, when non-empty, prefixes
// every derived table name.
func NewMetadata(schema string) *Metadata {
	return &Metadata{
		tables: make(map[reflect.Type]*TableInfo),
		schema: schema,
	}
}

// Schema returns the configured schema prefix.
func (m *Metadata) Schema() string { return m.schema }

// Tables returns the registered table metadata. Types sharing a table (an
// embedding model without its own primary key) both appear; callers that
// generate DDL deduplicate by name.
func (m *Metadata) Tables() []*TableInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TableInfo, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out
}

// Lookup returns the metadata for a model type or instance.
func (m *Metadata) Lookup(model any) (*TableInfo, error) {
	t, err := structType(model)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	info, ok := m.tables[t]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, t)
	}
	return info, nil
}

// Register derives table metadata for each model. Models must be structs or
// pointers to structs. Registration order matters only for embedding: a type
// embedding another model must be registered after it.
func (m *Metadata) Register(models ...any) error {
	for _, model := range models {
		if err := m.register(model); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metadata) register(model any) error {
	t, err := structType(model)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[t]; ok {
		return nil
	}

	info := &TableInfo{GoType: t, Schema: m.schema}

	cols, parent, err := m.collectColumns(t, nil)
	if err != nil {
		return fmt.Errorf("echorm: register %s: %w", t, err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("echorm: register %s: no mapped columns", t)
	}
	info.Columns = cols

	for _, c := range cols {
		if !c.PrimaryKey {
			continue
		}
		if info.PK != nil {
			return fmt.Errorf("echorm: register %s: composite primary keys are not supported", t)
		}
		info.PK = c
	}
	if info.PK == nil {
		return fmt.Errorf("echorm: register %s: no primary key column", t)
	}

	info.Name = m.deriveName(t, parent, info.PK)
	info.BindKey = deriveBindKey(t)

	m.tables[t] = info
	return nil
}

// deriveName applies the naming rules. A TableName method always wins. A type
// embedding a registered model keeps the parent's table when its primary key
// is the parent's (single-table case); declaring its own key earns a fresh
// name (joined case).
func (m *Metadata) deriveName(t reflect.Type, parent *TableInfo, pk *Column) string {
	if name, ok := tableNameOf(t); ok {
		return name
	}
	if parent != nil && len(pk.Index) > 1 && pk.Index[0] == parentFieldIndex(t, parent.GoType) {
		return parent.Name
	}
	return naming.SnakeCase(t.Name())
}

// parentFieldIndex finds the index of the embedded parent field on t.
func parentFieldIndex(t, parent reflect.Type) int {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == parent {
			return i
		}
	}
	return -1
}

// collectColumns walks t's fields depth-first, promoting embedded structs.
// Outer fields shadow embedded columns of the same name. The second return
// is the metadata of an embedded registered model, when there is one.
func (m *Metadata) collectColumns(t reflect.Type, index []int) ([]*Column, *TableInfo, error) {
	var direct []*Column
	var embedded []*Column
	var parent *TableInfo

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}

		if f.Anonymous && f.Type.Kind() == reflect.Struct && tag == "" {
			if info, ok := m.tables[f.Type]; ok && len(index) == 0 {
				parent = info
			}
			cols, _, err := m.collectColumns(f.Type, append(append([]int{}, index...), i))
			if err != nil {
				return nil, nil, err
			}
			embedded = append(embedded, cols...)
			continue
		}

		col, err := parseColumn(f, append(append([]int{}, index...), i))
		if err != nil {
			return nil, nil, err
		}
		if col != nil {
			direct = append(direct, col)
		}
	}

	// Promotion: direct fields win over embedded ones with the same column
	// name; for conflicting embeds the first embed wins, mirroring Go's own
	// shallowest-wins rule closely enough for flat mixins.
	seen := make(map[string]bool, len(direct))
	out := make([]*Column, 0, len(direct)+len(embedded))
	for _, c := range direct {
		seen[c.Name] = true
		out = append(out, c)
	}
	for _, c := range embedded {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out, parent, nil
}

// parseColumn maps one struct field. Tag grammar:
//
//	db:"name"            custom column name
//	db:",pk"             primary key, derived name
//	db:"todo_id,pk,auto" custom name, generated key
//	db:",size:60"        VARCHAR length hint
func parseColumn(f reflect.StructField, index []int) (*Column, error) {
	tag := f.Tag.Get("db")
	col := &Column{
		Name:   naming.SnakeCase(f.Name),
		Index:  index,
		GoType: f.Type,
	}

	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			col.Name = parts[0]
		}
		for _, opt := range parts[1:] {
			switch {
			case opt == "pk" || opt == "primarykey":
				col.PrimaryKey = true
			case opt == "auto" || opt == "autoincrement":
				col.AutoIncrement = true
			case strings.HasPrefix(opt, "size:"):
				n, err := strconv.Atoi(strings.TrimPrefix(opt, "size:"))
				if err != nil {
					return nil, fmt.Errorf("field %s: bad size option %q", f.Name, opt)
				}
				col.Size = n
			case opt == "":
			default:
				return nil, fmt.Errorf("field %s: unknown column option %q", f.Name, opt)
			}
		}
	}

	// Convention: an `ID` field with no tag is an auto-increment primary key,
	// matching what every model in practice declares by hand otherwise.
	if tag == "" && f.Name == "ID" && isIntKind(f.Type.Kind()) {
		col.PrimaryKey = true
		col.AutoIncrement = true
	}

	if col.AutoIncrement && !isIntKind(f.Type.Kind()) {
		return nil, fmt.Errorf("field %s: auto-increment requires an integer type", f.Name)
	}

	return col, nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// tableNameOf checks for a TableName override on T or *T.
func tableNameOf(t reflect.Type) (string, bool) {
	zero := reflect.New(t)
	if tn, ok := zero.Interface().(Tabler); ok {
		return tn.TableName(), true
	}
	if tn, ok := zero.Elem().Interface().(Tabler); ok {
		return tn.TableName(), true
	}
	return "", false
}

// deriveBindKey checks for a BindKey method on T or *T.
func deriveBindKey(t reflect.Type) string {
	zero := reflect.New(t)
	if b, ok := zero.Interface().(Binder); ok {
		return b.BindKey()
	}
	if b, ok := zero.Elem().Interface().(Binder); ok {
		return b.BindKey()
	}
	return ""
}

// structType normalizes a model value or type to its struct reflect.Type.
func structType(model any) (reflect.Type, error) {
	t, ok := model.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(model)
	}
	if t == nil {
		return nil, fmt.Errorf("echorm: nil model")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("echorm: model must be a struct, got %s", t.Kind())
	}
	return t, nil
}
