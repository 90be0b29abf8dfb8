package statement

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

func simpleTable() *schema.Table {
	return schema.NewTable("ks", "simple").
		PartitionKey("k", cql.Int).
		Column("v1", cql.Int).
		Column("v2", cql.Text).
		Column("l", cql.ListOf(cql.Text)).
		Column("m", cql.MapOf(cql.Text, cql.Text)).
		Column("st", cql.SetOf(cql.Text)).
		Column("u", pair).
		Column("fm", cql.Frozen(cql.MapOf(cql.Text, cql.Text))).
		MustBuild()
}

func staticTable() *schema.Table {
	return schema.NewTable("ks", "statics").
		PartitionKey("pk", cql.Int).
		Clustering("ck", cql.Int).
		Static("static_col", cql.Int).
		Column("value", cql.Int).
		MustBuild()
}

func textTable() *schema.Table {
	return schema.NewTable("ks", "texts").
		PartitionKey("k", cql.Text).
		Clustering("i", cql.Int).
		Static("s", cql.Text).
		Column("v", cql.Text).
		MustBuild()
}

func TestPrepare_ShapeErrors(t *testing.T) {
	kt := textTable()
	st := staticTable()
	simple := simpleTable()

	cases := []struct {
		name string
		stmt *Statement
		msg  string
	}{
		{"whole row delete on partition", NewDelete(kt).Where("k", "'k'").IfExists(),
			"DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to delete non static columns"},
		{"whole row delete with condition", NewDelete(kt).Where("k", "'k'").If("v = 'foo'"),
			"DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to delete non static columns"},
		{"missing partition key", NewDelete(kt).Where("i", "0").IfExists(),
			"Some partition key parts are missing: k"},
		{"literal type checked first", NewDelete(kt).Where("k", "0").WhereRange("i", ">", "0").IfExists(),
			`Invalid INTEGER constant (0) for "k" of type text`},
		{"slice delete with condition", NewDelete(kt).Where("k", "'k'").WhereRange("i", ">", "0").If("v = 'foo'"),
			"DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to delete non static columns"},
		{"conditional IN delete", NewDelete(kt).Where("k", "'k'").WhereIn("i", "0", "1").If("v = 'foo'"),
			"IN on the clustering key columns is not supported with conditional deletions"},
		{"conditional IN delete if exists", NewDelete(kt).Where("k", "'k'").WhereIn("i", "0", "1").IfExists(),
			"IN on the clustering key columns is not supported with conditional deletions"},
		{"conditional IN update", NewUpdate(st).Set("value", "1").Where("pk", "0").WhereIn("ck", "1", "2").IfExists(),
			"IN on the clustering key columns is not supported with conditional updates"},
		{"static delete without partition key", NewDelete(st).DeleteColumns("static_col").Where("ck", "1").If("static_col = 1"),
			"Some partition key parts are missing: pk"},
		{"static delete with clustering", NewDelete(st).DeleteColumns("static_col").Where("pk", "1").Where("ck", "1").If("static_col = 1"),
			"Invalid restrictions on clustering columns since the DELETE statement modifies only static columns"},
		{"mixed delete on partition", NewDelete(st).DeleteColumns("static_col", "value").Where("pk", "1").If("static_col = 1"),
			"DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to delete non static columns"},
		{"static delete with regular condition", NewDelete(st).DeleteColumns("static_col").Where("pk", "1").If("value = 2 AND static_col = 1"),
			"DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to use IF condition on non static columns"},
		{"static update without partition key", NewUpdate(st).Set("static_col", "3").Where("ck", "1").If("static_col = 1"),
			"Some partition key parts are missing: pk"},
		{"static update with clustering", NewUpdate(st).Set("static_col", "3").Where("pk", "1").Where("ck", "1").If("static_col = 1"),
			"Invalid restrictions on clustering columns since the UPDATE statement modifies only static columns"},
		{"mixed update on partition", NewUpdate(st).Set("static_col", "3").Set("value", "1").Where("pk", "1").If("static_col = 1"),
			"Some clustering keys are missing: ck"},
		{"static update with regular condition", NewUpdate(st).Set("static_col", "3").Where("pk", "1").If("value = 4 AND static_col = 2"),
			"Some clustering keys are missing: ck"},
		{"column range delete", NewDelete(st).DeleteColumns("value").Where("pk", "1"),
			"Range deletions are not supported for specific columns"},
		{"slice update", NewUpdate(st).Set("value", "1").Where("pk", "1").WhereRange("ck", ">", "1"),
			"Slice restrictions are not supported on the clustering columns in UPDATE statements"},
		{"primary key in set", NewUpdate(simple).Set("k", "1").Where("k", "0"),
			"PRIMARY KEY part k found in SET part"},
		{"regular column in where", NewUpdate(st).Set("value", "1").Where("pk", "0").Where("value", "1"),
			"Non PRIMARY KEY columns found in where clause: value"},
		{"unknown column", NewUpdate(simple).Set("nope", "1").Where("k", "0"),
			"Undefined column name nope"},
		{"negative ttl", NewUpdate(simple).Set("v1", "1").Where("k", "0").UsingTTL(-time.Second),
			"A TTL must be greater or equal to 0, but was -1"},
		{"element of frozen map", NewUpdate(simple).SetElement("fm", "'a'", "'b'").Where("k", "0"),
			"Invalid operation (fm['a'] = 'b') for frozen collection column fm"},
		{"element of set", NewUpdate(simple).SetElement("st", "'a'", "'b'").Where("k", "0"),
			"Invalid operation (st['a'] = 'b') for non list/map column st"},
		{"unknown udt field", NewUpdate(simple).SetField("u", "c", "1").Where("k", "0"),
			"UDT column u does not have a field named c"},
		{"clustering gap", NewDelete(schema.NewTable("ks", "gap").
			PartitionKey("k", cql.Int).Clustering("c1", cql.Int).Clustering("c2", cql.Int).MustBuild()).
			Where("k", "0").Where("c2", "1"),
			`PRIMARY KEY column "c2" cannot be restricted as preceding column "c1" is not restricted`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.stmt.Prepare()
			require.Error(t, err)
			assert.True(t, cql.IsInvalidRequest(err), err.Error())
			assert.Equal(t, tc.msg, err.Error())
		})
	}
}

func TestPrepare_SyntaxErrors(t *testing.T) {
	simple := simpleTable()
	for name, stmt := range map[string]*Statement{
		"insert with condition":   NewInsert(simple).Value("k", "0").Value("v1", "1").If("v1 = 1"),
		"update if not exists":    NewUpdate(simple).Set("v1", "1").Where("k", "0").IfNotExists(),
		"in without parentheses":  NewUpdate(simple).Set("v1", "1").Where("k", "0").If("v1 IN 367"),
		"malformed literal":       NewUpdate(simple).Set("v1", "[1,").Where("k", "0"),
		"delete with ttl":         NewDelete(simple).Where("k", "0").UsingTTL(time.Second),
		"exists with conditions":  NewUpdate(simple).Set("v1", "1").Where("k", "0").IfExists().If("v1 = 1"),
		"contains in a condition": NewUpdate(simple).Set("v1", "1").Where("k", "0").If("l CONTAINS 'a'"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := stmt.Prepare()
			require.Error(t, err)
			assert.True(t, cql.IsSyntaxError(err), err.Error())
		})
	}
}

func TestPrepare_Scope(t *testing.T) {
	st := staticTable()

	p, err := NewUpdate(st).Set("static_col", "1").Where("pk", "0").If("static_col = 1").Prepare()
	require.NoError(t, err)
	assert.True(t, p.StaticOnly)
	assert.True(t, p.Conditions.Scope().Static)
	assert.Nil(t, p.Clustering())

	p, err = NewDelete(st).DeleteColumns("static_col").Where("pk", "0").IfExists().Prepare()
	require.NoError(t, err)
	assert.True(t, p.StaticOnly)

	p, err = NewInsert(st).Value("pk", "0").Value("static_col", "1").IfNotExists().Prepare()
	require.NoError(t, err)
	assert.True(t, p.StaticOnly)

	p, err = NewInsert(st).Value("pk", "0").Value("ck", "1").Value("static_col", "1").IfNotExists().Prepare()
	require.NoError(t, err)
	assert.False(t, p.StaticOnly)

	p, err = NewUpdate(st).Set("static_col", "1").Where("pk", "0").Where("ck", "2").If("value = 1").Prepare()
	require.NoError(t, err)
	assert.False(t, p.StaticOnly)
	assert.True(t, p.Conditional())
	require.Len(t, p.Clustering(), 1)
	assert.Equal(t, int64(2), p.Clustering()[0].Int)
	assert.Equal(t, []*cql.Value{cql.IntValue(0)}, p.Key)

	p, err = NewUpdate(st).Set("value", "1").Where("pk", "0").WhereIn("ck", "3", "1", "3").Prepare()
	require.NoError(t, err)
	assert.False(t, p.Conditional())
	assert.Len(t, p.Rows(), 2)
}

func TestStatement_String(t *testing.T) {
	simple := simpleTable()
	assert.Equal(t, "UPDATE ks.simple SET v2 = 'bar', v1 = 3 WHERE k = 0 IF v1 = 2",
		NewUpdate(simple).Set("v2", "'bar'").Set("v1", "3").Where("k", "0").If("v1 = 2").String())
	assert.Equal(t, "INSERT INTO ks.simple (k, v1) VALUES (0, 2) USING TTL 5 IF NOT EXISTS",
		NewInsert(simple).Value("k", "0").Value("v1", "2").UsingTTL(5*time.Second).IfNotExists().String())
	assert.Equal(t, "DELETE m['a'] FROM ks.simple WHERE k = 0 IF EXISTS",
		NewDelete(simple).DeleteElement("m", "'a'").Where("k", "0").IfExists().String())
}

// apply prepares stmt and layers its effect at ts over snapshot
func apply(t *testing.T, snapshot *row.Partition, stmt *Statement, ts int64) *row.Partition {
	t.Helper()
	p, err := stmt.Prepare()
	require.NoError(t, err)
	update := row.NewPartition(p.Key)
	require.NoError(t, p.Apply(update, snapshot, ts, now))
	return row.Merge(snapshot, update)
}

func TestApply_InsertAndUpdate(t *testing.T) {
	tbl := simpleTable()
	p := apply(t, nil, NewInsert(tbl).Value("k", "0").Value("v1", "2").Value("v2", "'foo'"), 1)
	p = apply(t, p, NewUpdate(tbl).UsingTTL(time.Second).Set("v1", "3").Where("k", "0"), 2)

	view := row.NewView(p, now)
	r := view.Row(nil)
	assert.Equal(t, int64(3), view.Value(r, tbl.Column("v1")).Int)

	later := row.NewView(p, now.Add(2*time.Second))
	assert.Nil(t, later.Value(r, tbl.Column("v1")))
	assert.Equal(t, "foo", later.Value(r, tbl.Column("v2")).Text)
	assert.True(t, later.MarkerLive(r))

	updated := apply(t, nil, NewUpdate(tbl).Set("v1", "1").Where("k", "1"), 1)
	assert.False(t, row.NewView(updated, now).MarkerLive(updated.Rows[0]), "UPDATE writes no row marker")

	p = apply(t, p, NewDelete(tbl).Where("k", "0"), 3)
	view = row.NewView(p, now)
	assert.False(t, view.Exists(view.Row(nil), tbl.RegularColumns()))
}

func TestApply_Collections(t *testing.T) {
	tbl := simpleTable()
	l, m, u := tbl.Column("l"), tbl.Column("m"), tbl.Column("u")

	p := apply(t, nil, NewUpdate(tbl).Set("l", "['foo', 'bar', 'foobar']").Set("m", "{'a': '1', 'b': '2'}").Where("k", "0"), 1)
	p = apply(t, p, NewUpdate(tbl).SetElement("l", "1", "'baz'").SetElement("m", "'c'", "'3'").Where("k", "0"), 2)
	p = apply(t, p, NewDelete(tbl).DeleteElement("l", "0").DeleteElement("m", "'a'").Where("k", "0"), 3)
	p = apply(t, p, NewUpdate(tbl).SetField("u", "b", "'x'").Where("k", "0"), 4)

	view := row.NewView(p, now)
	r := view.Row(nil)
	list := view.Value(r, l)
	require.Len(t, list.Elems, 2)
	assert.Equal(t, "baz", list.Index(0).Text)
	assert.Equal(t, "foobar", list.Index(1).Text)

	mv := view.Value(r, m)
	assert.Nil(t, mv.MapGet(cql.TextValue("a")))
	assert.Equal(t, "3", mv.MapGet(cql.TextValue("c")).Text)
	assert.Len(t, mv.Keys, 2)

	uv := view.Value(r, u)
	assert.Nil(t, uv.Field(0))
	assert.Equal(t, "x", uv.Field(1).Text)

	// overwriting a whole list replaces every element
	p = apply(t, p, NewUpdate(tbl).Set("l", "['z']").Where("k", "0"), 5)
	view = row.NewView(p, now)
	assert.Len(t, view.Value(view.Row(nil), l).Elems, 1)

	stmt, err := NewUpdate(tbl).SetElement("l", "5", "'x'").Where("k", "0").Prepare()
	require.NoError(t, err)
	err = stmt.Apply(row.NewPartition(stmt.Key), p, 6, now)
	require.Error(t, err)
	assert.Equal(t, "List index 5 out of bound, list has size 1", err.Error())

	p = apply(t, p, NewUpdate(tbl).Set("m", "{}").Where("k", "0"), 7)
	view = row.NewView(p, now)
	assert.Nil(t, view.Value(view.Row(nil), m), "an emptied map reads as null")
}

func TestApply_RangesAndStatics(t *testing.T) {
	tbl := staticTable()
	var p *row.Partition
	for i := 1; i <= 4; i++ {
		ck := string(rune('0' + i))
		p = apply(t, p, NewInsert(tbl).Value("pk", "0").Value("ck", ck).Value("value", ck), 1)
	}
	p = apply(t, p, NewUpdate(tbl).Set("static_col", "5").Where("pk", "0"), 1)
	p = apply(t, p, NewUpdate(tbl).Set("value", "9").Where("pk", "0").WhereIn("ck", "1", "4"), 2)
	p = apply(t, p, NewDelete(tbl).Where("pk", "0").WhereRange("ck", ">=", "2").WhereRange("ck", "<", "4"), 3)

	view := row.NewView(p, now)
	value := tbl.Column("value")
	live := func(ck int64) bool {
		r := view.Row([]*cql.Value{cql.IntValue(ck)})
		return view.Exists(r, tbl.RegularColumns())
	}
	assert.True(t, live(1))
	assert.False(t, live(2))
	assert.False(t, live(3))
	assert.True(t, live(4))
	assert.Equal(t, int64(9), view.Value(view.Row([]*cql.Value{cql.IntValue(4)}), value).Int)
	assert.Equal(t, int64(5), view.Value(view.Static(), tbl.Column("static_col")).Int)

	p = apply(t, p, NewDelete(tbl).Where("pk", "0"), 4)
	view = row.NewView(p, now)
	assert.Nil(t, view.Value(view.Static(), tbl.Column("static_col")))
	assert.False(t, live(1))
}

func TestApply_SameTimestampReconciliation(t *testing.T) {
	tbl := simpleTable()
	insert, err := NewInsert(tbl).Value("k", "0").Value("v1", "1").Prepare()
	require.NoError(t, err)
	remove, err := NewDelete(tbl).DeleteColumns("v1").Where("k", "0").Prepare()
	require.NoError(t, err)
	bigger, err := NewUpdate(tbl).Set("v2", "'b'").Where("k", "0").Prepare()
	require.NoError(t, err)
	smaller, err := NewUpdate(tbl).Set("v2", "'a'").Where("k", "0").Prepare()
	require.NoError(t, err)

	update := row.NewPartition(insert.Key)
	for _, p := range []*Prepared{insert, remove, bigger, smaller} {
		require.NoError(t, p.Apply(update, nil, 10, now))
	}
	view := row.NewView(update, now)
	r := view.Row(nil)
	assert.Nil(t, view.Value(r, tbl.Column("v1")), "tombstone wins a timestamp tie")
	assert.Equal(t, "b", view.Value(r, tbl.Column("v2")).Text, "greater value wins a timestamp tie")
}
