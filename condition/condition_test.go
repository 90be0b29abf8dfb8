package condition

import (
	"testing"
	"time"

	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1_700_000_000, 0)

var pair = cql.UDT("pair", cql.Field{Name: "a", Type: cql.Int}, cql.Field{Name: "b", Type: cql.Text})

func testTable() *schema.Table {
	return schema.NewTable("ks", "t").
		PartitionKey("k", cql.Int).
		Column("v1", cql.Int).
		Column("v2", cql.Text).
		Column("l", cql.ListOf(cql.Text)).
		Column("m", cql.MapOf(cql.Text, cql.Text)).
		Column("st", cql.SetOf(cql.Text)).
		Column("u", pair).
		Column("fl", cql.Frozen(cql.ListOf(cql.Int))).
		MustBuild()
}

// base is the row (k=0, v1=2, v2='foo') written by an INSERT
func base() (*row.Partition, *row.Row) {
	p := row.NewPartition([]*cql.Value{cql.IntValue(0)})
	r := p.Writable(nil)
	r.Marker = row.NewLiveness(1, 0, now)
	r.SetCell("v1", row.NewCell(cql.IntValue(2), 1, 0, now))
	r.SetCell("v2", row.NewCell(cql.TextValue("foo"), 1, 0, now))
	return p, r
}

func prepare(t *testing.T, tbl *schema.Table, src string) *Set {
	t.Helper()
	clause, err := Parse(src)
	require.NoError(t, err, src)
	set, err := Prepare(tbl, clause)
	require.NoError(t, err, src)
	return set.In(Scope{})
}

func evaluate(t *testing.T, p *row.Partition, src string) Evaluation {
	t.Helper()
	return prepare(t, testTable(), src).Evaluate(p, now)
}

func TestParse(t *testing.T) {
	c, err := Parse("IF EXISTS")
	require.NoError(t, err)
	assert.True(t, c.IfExists)

	c, err = Parse("if not exists")
	require.NoError(t, err)
	assert.True(t, c.IfNotExists)

	c, err = Parse("IF v1 = 2 AND m['k'] IN ('a', null) AND u.a >= 3 AND l[1] != 'x'")
	require.NoError(t, err)
	require.Len(t, c.Conditions, 4)
	assert.Equal(t, TargetColumn, c.Conditions[0].Target.Kind)
	assert.Equal(t, IN, c.Conditions[1].Op)
	assert.Len(t, c.Conditions[1].Values, 2)
	assert.True(t, c.Conditions[1].Values[1].IsNull())
	assert.Equal(t, TargetField, c.Conditions[2].Target.Kind)
	assert.Equal(t, GTE, c.Conditions[2].Op)
	assert.Equal(t, NEQ, c.Conditions[3].Op)
	assert.Equal(t, "IF v1 = 2 AND m['k'] IN ('a', null) AND u.a >= 3 AND l[1] != 'x'", c.String())

	c, err = Parse("v1 IN ()")
	require.NoError(t, err)
	assert.Empty(t, c.Conditions[0].Values)
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"IF v1 IN null",
		"IF v1 IN 367",
		"IF l CONTAINS 'bar'",
		"IF m CONTAINS KEY 'x'",
		"IF u.a CONTAINS 367",
		"IF v1 =",
		"IF",
		"IF v1 = 1 v2 = 2",
		"IF EXISTS AND v1 = 1",
		"IF v1 ~ 1",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.True(t, cql.IsSyntaxError(err), err.Error())
		})
	}
}

func TestCache(t *testing.T) {
	cache, err := NewCache(2)
	require.NoError(t, err)

	a, err := cache.Parse("IF v1 = 1")
	require.NoError(t, err)
	b, err := cache.Parse("IF v1 = 1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = cache.Parse("IF v1 IN 1")
	require.Error(t, err)
	assert.Equal(t, 1, cache.Len())
}

func TestEvaluate_Scalar(t *testing.T) {
	p, _ := base()

	ev := evaluate(t, p, "IF v1 = 4")
	assert.False(t, ev.Applies)
	assert.True(t, ev.Exists)
	require.Len(t, ev.Observed, 1)
	assert.Equal(t, "v1", ev.Observed[0].Column.Name)
	assert.Equal(t, int64(2), ev.Observed[0].Value.Int)

	assert.True(t, evaluate(t, p, "IF v1 = 2").Applies)

	ev = evaluate(t, p, "IF v1 = 2 AND v2 = 'bar'")
	assert.False(t, ev.Applies, "second conjunct is false")
	require.Len(t, ev.Observed, 2)
	assert.Equal(t, "foo", ev.Observed[1].Value.Text)

	assert.True(t, evaluate(t, p, "IF v1 > 1 AND v1 < 3 AND v1 >= 2 AND v1 <= 2 AND v1 != 3").Applies)
	assert.True(t, evaluate(t, p, "IF v1 IN (1, 2)").Applies)
	assert.False(t, evaluate(t, p, "IF v1 IN ()").Applies)
	assert.False(t, evaluate(t, p, "IF v1 = null").Applies)
	assert.True(t, evaluate(t, p, "IF v1 != null").Applies)
}

func TestEvaluate_Idempotent(t *testing.T) {
	p, _ := base()
	set := prepare(t, testTable(), "IF v1 = 3 AND v2 = 'foo'")
	first := set.Evaluate(p, now)
	second := set.Evaluate(p, now)
	assert.Equal(t, first, second)
}

func TestEvaluate_NullSymmetry(t *testing.T) {
	p := row.NewPartition([]*cql.Value{cql.IntValue(0)})
	p.Writable(nil).SetCell("v2", row.NewCell(cql.TextValue("foo"), 1, 0, now))

	truths := map[string]bool{
		"IF v1 = null":           true,
		"IF v1 IN (null, 1)":     true,
		"IF v1 IN (1, null)":     true,
		"IF v1 IN (1, 2)":        false,
		"IF v1 != null":          false,
		"IF v1 = 4":              false,
		"IF v1 != 4":             true,
		"IF v1 < 4":              false,
		"IF v1 <= 4":             false,
		"IF v1 > 4":              false,
		"IF v1 >= 4":             false,
		"IF l = null":            true,
		"IF l = []":              true,
		"IF fl = []":             false,
		"IF fl = null":           true,
		"IF u.a = null":          true,
		"IF u.a > 0":             false,
		"IF m['x'] = null":       true,
		"IF m['x'] != 'a'":       true,
		"IF l[0] IN ('a')":       false,
		"IF l[0] IN ('a', null)": true,
	}
	for src, want := range truths {
		t.Run(src, func(t *testing.T) {
			assert.Equal(t, want, evaluate(t, p, src).Applies)
		})
	}

	missing := evaluate(t, nil, "IF v1 = null")
	assert.True(t, missing.Applies)
	assert.False(t, missing.Exists)
	assert.Nil(t, missing.Observed[0].Value)
}

func TestPrepare_Invalid(t *testing.T) {
	tbl := testTable()
	for _, src := range []string{
		"IF v1 < null",
		"IF v1 <= null",
		"IF v1 > null",
		"IF v1 >= null",
		"IF u.a < null",
		"IF l[1] >= null",
		"IF nope = 1",
		"IF k = 0",
		"IF v1 = 'text'",
		"IF v1 IN (1, 'a')",
		"IF l = [null]",
		"IF l[null] = 'a'",
		"IF l[-1] = 'a'",
		"IF l['x'] = 'a'",
		"IF m[null] = 'a'",
		"IF m[1] = 'a'",
		"IF st['a'] = 'a'",
		"IF v1[0] = 1",
		"IF u.c = null",
		"IF v1.a = 1",
		"IF u = {a: 1, b: 'abc', c: 'foo'}",
		"IF u.b IN (1, 2, 3)",
	} {
		t.Run(src, func(t *testing.T) {
			clause, err := Parse(src)
			require.NoError(t, err)
			_, err = Prepare(tbl, clause)
			require.Error(t, err)
			assert.True(t, cql.IsInvalidRequest(err), err.Error())
		})
	}
}

func TestEvaluate_ListElement(t *testing.T) {
	p, r := base()
	r.DeleteComplex("l", 0)
	for i, s := range []string{"foo", "bar", "foobar"} {
		r.SetElement("l", cql.IntValue(int64(i)), row.NewCell(cql.TextValue(s), 1, 0, now))
	}

	assert.True(t, evaluate(t, p, "IF l[1] = 'bar'").Applies)
	assert.True(t, evaluate(t, p, "IF l[3] = null").Applies, "index past the end is unset")
	assert.False(t, evaluate(t, p, "IF l[1] = null").Applies)
	assert.True(t, evaluate(t, p, "IF l[0] < 'goo' AND l[2] > 'foo'").Applies)
	assert.True(t, evaluate(t, p, "IF l = ['foo', 'bar', 'foobar']").Applies)
	assert.True(t, evaluate(t, p, "IF l > ['foo', 'bar']").Applies)
	assert.True(t, evaluate(t, p, "IF l < ['foo', 'bar', 'foobar', 'x']").Applies)
	assert.False(t, evaluate(t, p, "IF l > ['foo', 'bar', 'foobar']").Applies)

	ev := evaluate(t, p, "IF l[1] = 'x'")
	require.Len(t, ev.Observed, 1)
	assert.Len(t, ev.Observed[0].Value.Elems, 3, "element conditions report the whole column")
}

func TestEvaluate_MapElement(t *testing.T) {
	p, r := base()
	r.SetElement("m", cql.TextValue("foo"), row.NewCell(cql.TextValue("bar"), 1, 0, now))

	ev := evaluate(t, p, "IF m['foo'] = null")
	assert.False(t, ev.Applies)
	require.Len(t, ev.Observed, 1)
	assert.Equal(t, "bar", ev.Observed[0].Value.MapGet(cql.TextValue("foo")).Text)

	assert.True(t, evaluate(t, p, "IF m['xxx'] = null").Applies)
	assert.True(t, evaluate(t, p, "IF m['foo'] IN ('a', 'bar')").Applies)
	assert.True(t, evaluate(t, p, "IF m = {'foo': 'bar'}").Applies)
	assert.True(t, evaluate(t, p, "IF m > {'a': 'z'}").Applies)
	assert.False(t, evaluate(t, p, "IF m = {}").Applies)
}

func TestEvaluate_UDT(t *testing.T) {
	p, r := base()
	r.SetElement("u", cql.IntValue(0), row.NewCell(cql.IntValue(1), 1, 0, now))
	r.SetElement("u", cql.IntValue(1), row.NewCell(cql.TextValue("x"), 1, 0, now))

	assert.True(t, evaluate(t, p, "IF u.a = 1 AND u.b > 'a'").Applies)
	assert.True(t, evaluate(t, p, "IF u = {a: 1, b: 'x'}").Applies)
	assert.False(t, evaluate(t, p, "IF u = {a: 1}").Applies, "missing field binds as null")
	assert.True(t, evaluate(t, p, "IF u > {a: 1}").Applies)
	assert.True(t, evaluate(t, p, "IF u < {a: 2}").Applies)
}

func TestEvaluate_ExistsAndTTL(t *testing.T) {
	tbl := testTable()
	ifExists := prepare(t, tbl, "IF EXISTS")
	ifNotExists := prepare(t, tbl, "IF NOT EXISTS")

	p, _ := base()
	assert.True(t, ifExists.Evaluate(p, now).Applies)
	assert.False(t, ifNotExists.Evaluate(p, now).Applies)
	assert.True(t, ifNotExists.Evaluate(nil, now).Applies)

	updated := row.NewPartition([]*cql.Value{cql.IntValue(0)})
	updated.Writable(nil).SetCell("v1", row.NewCell(cql.IntValue(1), 1, time.Second, now))
	later := now.Add(2 * time.Second)
	assert.True(t, ifExists.Evaluate(updated, now).Applies)
	assert.False(t, ifExists.Evaluate(updated, later).Applies, "expired cells without a marker")
	assert.True(t, ifNotExists.Evaluate(updated, later).Applies)
}

func TestEvaluate_StaticScope(t *testing.T) {
	tbl := schema.NewTable("ks", "s").
		PartitionKey("k", cql.Int).
		Clustering("c", cql.Int).
		Static("s", cql.Int).
		Column("v", cql.Int).
		MustBuild()

	p := row.NewPartition([]*cql.Value{cql.IntValue(0)})
	p.WritableStatic().SetCell("s", row.NewCell(cql.IntValue(1), 1, 0, now))

	set := prepare(t, tbl, "IF s = 1")
	assert.True(t, set.TouchesStatic())
	assert.False(t, set.TouchesRegular())

	static := set.In(Scope{Static: true})
	ev := static.Evaluate(p, now)
	assert.True(t, ev.Applies)
	assert.True(t, ev.Exists)

	clause, err := Parse("IF EXISTS")
	require.NoError(t, err)
	exists, err := Prepare(tbl, clause)
	require.NoError(t, err)
	assert.True(t, exists.In(Scope{Static: true}).Evaluate(p, now).Applies)
	assert.False(t, exists.In(Scope{Clustering: []*cql.Value{cql.IntValue(1)}}).Evaluate(p, now).Applies,
		"static data does not make a clustering row exist")

	regular := prepare(t, tbl, "IF v = null").In(Scope{Clustering: []*cql.Value{cql.IntValue(1)}})
	ev = regular.Evaluate(p, now)
	assert.True(t, ev.Applies)
	assert.False(t, ev.Exists)
}
