package echorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FOOBar struct{ ID int64 }

type BazBar struct{ ID int64 }

type Ham struct{ ID int64 }

func (Ham) TableName() string { return "spam" }

func TestDerivedTableNames(t *testing.T) {
	m := NewMetadata("")
	require.NoError(t, m.Register(&FOOBar{}, &BazBar{}, &Ham{}))

	foo, err := m.Lookup(&FOOBar{})
	require.NoError(t, err)
	assert.Equal(t, "foo_bar", foo.Name)

	baz, err := m.Lookup(&BazBar{})
	require.NoError(t, err)
	assert.Equal(t, "baz_bar", baz.Name)

	ham, err := m.Lookup(&Ham{})
	require.NoError(t, err)
	assert.Equal(t, "spam", ham.Name)
}

type Duck struct{ ID int64 }

// Mallard embeds Duck without its own key: it shares Duck's table.
type Mallard struct{ Duck }

// Donald embeds Duck and declares its own key: it gets its own table.
type Donald struct {
	Duck
	ID int64 `db:"id,pk"`
}

func TestEmbeddedModelNaming(t *testing.T) {
	m := NewMetadata("")
	require.NoError(t, m.Register(&Duck{}))
	require.NoError(t, m.Register(&Mallard{}, &Donald{}))

	duck, err := m.Lookup(&Duck{})
	require.NoError(t, err)
	assert.Equal(t, "duck", duck.Name)

	mallard, err := m.Lookup(&Mallard{})
	require.NoError(t, err)
	assert.Equal(t, "duck", mallard.Name, "embedding without a new key keeps the parent table")

	donald, err := m.Lookup(&Donald{})
	require.NoError(t, err)
	assert.Equal(t, "donald", donald.Name, "a fresh key earns a fresh table")
}

// IDMixin supplies a primary key to embedders without being a model itself.
type IDMixin struct{ ID int64 }

type MixDuck struct{ IDMixin }

// RubberDuck gets its key through a mixin while also embedding a model.
type RubberDuck struct {
	KeyMixin
	Duck
}

type KeyMixin struct {
	ID int64 `db:"id,pk"`
}

func TestMixinNaming(t *testing.T) {
	m := NewMetadata("")
	require.NoError(t, m.Register(&Duck{}))

	// A plain mixin is not registrable on its own behalf here; the embedding
	// type names the table.
	require.NoError(t, m.Register(&MixDuck{}))
	mix, err := m.Lookup(&MixDuck{})
	require.NoError(t, err)
	assert.Equal(t, "mix_duck", mix.Name)

	_, err = m.Lookup(&IDMixin{})
	assert.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, m.Register(&RubberDuck{}))
	rubber, err := m.Lookup(&RubberDuck{})
	require.NoError(t, err)
	assert.Equal(t, "rubber_duck", rubber.Name, "a mixin-provided key still yields a new table")
}

func TestColumnMapping(t *testing.T) {
	m := NewMetadata("")
	require.NoError(t, m.Register(&testTodo{}))

	info, err := m.Lookup(testTodo{})
	require.NoError(t, err)

	assert.Equal(t, "todos", info.Name)
	require.NotNil(t, info.PK)
	assert.Equal(t, "todo_id", info.PK.Name)
	assert.True(t, info.PK.AutoIncrement)

	title := info.Column("title")
	require.NotNil(t, title)
	assert.Equal(t, 60, title.Size)

	names := make([]string, 0, len(info.Columns))
	for _, c := range info.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"todo_id", "title", "text", "done", "pub_date"}, names)
}

func TestSchemaPrefix(t *testing.T) {
	m := NewMetadata("test_schema")
	require.NoError(t, m.Register(&Duck{}))

	info, err := m.Lookup(&Duck{})
	require.NoError(t, err)
	assert.Equal(t, "test_schema", info.Schema)
	assert.Equal(t, "test_schema.duck", info.QualifiedName())
}

type bindFoo struct{ ID int64 }

func (bindFoo) BindKey() string { return "foo" }

func TestBindKeyDerivation(t *testing.T) {
	m := NewMetadata("")
	require.NoError(t, m.Register(&bindFoo{}, &Duck{}))

	foo, err := m.Lookup(&bindFoo{})
	require.NoError(t, err)
	assert.Equal(t, "foo", foo.BindKey)

	duck, err := m.Lookup(&Duck{})
	require.NoError(t, err)
	assert.Equal(t, "", duck.BindKey)
}

func TestRegisterRejectsBadModels(t *testing.T) {
	m := NewMetadata("")

	assert.Error(t, m.Register(42), "non-struct")
	assert.Error(t, m.Register(&struct{ Name string }{}), "no primary key")
}
