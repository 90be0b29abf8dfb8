package schema

import (
	"fmt"
	"sort"

	"github.com/maxpert/lwt/cql"
)

// ColumnKind is the role a column plays in the primary key layout
type ColumnKind uint8

const (
	PartitionKey ColumnKind = iota
	Clustering
	Static
	Regular
)

func (k ColumnKind) String() string {
	switch k {
	case PartitionKey:
		return "partition_key"
	case Clustering:
		return "clustering"
	case Static:
		return "static"
	default:
		return "regular"
	}
}

// Column describes one table column. Position is the index within its key
// component for partition key and clustering columns.
type Column struct {
	Name     string
	Type     *cql.Type
	Kind     ColumnKind
	Position int
}

// IsPrimaryKey reports whether the column is part of the primary key
func (c *Column) IsPrimaryKey() bool {
	return c.Kind == PartitionKey || c.Kind == Clustering
}

// IsStatic reports whether the column is shared by all rows of a partition
func (c *Column) IsStatic() bool {
	return c.Kind == Static
}

// Table is an immutable table definition
type Table struct {
	Keyspace string
	Name     string

	byName       map[string]*Column
	partitionKey []*Column
	clustering   []*Column
	statics      []*Column
	regulars     []*Column
	all          []*Column
}

// Column looks up a column by name
func (t *Table) Column(name string) *Column {
	return t.byName[name]
}

func (t *Table) PartitionKey() []*Column      { return t.partitionKey }
func (t *Table) ClusteringColumns() []*Column { return t.clustering }
func (t *Table) StaticColumns() []*Column     { return t.statics }
func (t *Table) RegularColumns() []*Column    { return t.regulars }

// Columns returns every column in result order: partition key, clustering,
// then static and regular columns each sorted by name.
func (t *Table) Columns() []*Column { return t.all }

// HasStatic reports whether the table declares static columns
func (t *Table) HasStatic() bool {
	return len(t.statics) > 0
}

func (t *Table) String() string {
	return t.Keyspace + "." + t.Name
}

// Builder assembles a Table
type Builder struct {
	t    *Table
	errs []error
}

// NewTable starts a table definition
func NewTable(keyspace, name string) *Builder {
	return &Builder{t: &Table{Keyspace: keyspace, Name: name, byName: make(map[string]*Column)}}
}

func (b *Builder) add(name string, typ *cql.Type, kind ColumnKind) *Builder {
	if _, dup := b.t.byName[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate column %s", name))
		return b
	}
	col := &Column{Name: name, Type: typ, Kind: kind}
	switch kind {
	case PartitionKey:
		col.Position = len(b.t.partitionKey)
		b.t.partitionKey = append(b.t.partitionKey, col)
	case Clustering:
		col.Position = len(b.t.clustering)
		b.t.clustering = append(b.t.clustering, col)
	case Static:
		b.t.statics = append(b.t.statics, col)
	default:
		b.t.regulars = append(b.t.regulars, col)
	}
	b.t.byName[name] = col
	return b
}

func (b *Builder) PartitionKey(name string, typ *cql.Type) *Builder {
	return b.add(name, typ, PartitionKey)
}

func (b *Builder) Clustering(name string, typ *cql.Type) *Builder {
	return b.add(name, typ, Clustering)
}

func (b *Builder) Static(name string, typ *cql.Type) *Builder {
	return b.add(name, typ, Static)
}

func (b *Builder) Column(name string, typ *cql.Type) *Builder {
	return b.add(name, typ, Regular)
}

// Build validates and returns the table
func (b *Builder) Build() (*Table, error) {
	t := b.t
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(t.partitionKey) == 0 {
		return nil, fmt.Errorf("table %s has no partition key", t)
	}
	for _, c := range append(append([]*Column{}, t.partitionKey...), t.clustering...) {
		if c.Type.IsMultiCell() {
			return nil, fmt.Errorf("invalid non-frozen type %s for PRIMARY KEY column %s", c.Type, c.Name)
		}
	}
	if len(t.statics) > 0 && len(t.clustering) == 0 {
		return nil, fmt.Errorf("static columns are only allowed if the table has at least one clustering column")
	}

	byName := func(cols []*Column) {
		sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	}
	byName(t.statics)
	byName(t.regulars)
	t.all = append(t.all, t.partitionKey...)
	t.all = append(t.all, t.clustering...)
	t.all = append(t.all, t.statics...)
	t.all = append(t.all, t.regulars...)
	return t, nil
}

// MustBuild is Build for statically known definitions
func (b *Builder) MustBuild() *Table {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
