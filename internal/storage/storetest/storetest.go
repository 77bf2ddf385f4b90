// Package storetest holds the behavioral contract every core.Store backend
// must satisfy. Backend test files call Run with a constructor.
package storetest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) core.Store

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s core.Store)
	}{
		{"CreateTableIsIdempotent", testCreateTableIdempotent},
		{"ConcurrentCreateTableSameName", testConcurrentCreateTable},
		{"ListTablesAndSchema", testListTablesAndSchema},
		{"InsertAssignsIncreasingIDs", testInsertIDs},
		{"ConcurrentInsertsGetUniqueIDs", testConcurrentInserts},
		{"InsertNormalizesDeclaredColumns", testInsertNormalizes},
		{"InsertRejectsUnconvertibleValue", testInsertRejects},
		{"WritesExtendSchema", testWritesExtendSchema},
		{"InsertBatchIsAtomic", testInsertBatchAtomic},
		{"InsertBatchKeepsOrder", testInsertBatchOrder},
		{"MissingTableReadsAsEmpty", testMissingTable},
		{"PaginationConcatenates", testPagination},
		{"OffsetBeyondEnd", testOffsetBeyondEnd},
		{"FilterByNumber", testFilterNumber},
		{"FilterByBooleanAndString", testFilterBoolString},
		{"FilterByDate", testFilterDate},
		{"FilterByID", testFilterID},
		{"FilterUnknownColumnMatchesNothing", testFilterUnknownColumn},
		{"UpdateMerges", testUpdateMerges},
		{"UpdateEmptyPatch", testUpdateEmptyPatch},
		{"UpdateMissing", testUpdateMissing},
		{"DeleteNeverReusesID", testDeleteNeverReusesID},
		{"DropTable", testDropTable},
		{"Reset", testReset},
		{"QuotedIdentifiers", testQuotedIdentifiers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var people = []core.ColumnSchema{
	{Name: "name", Type: core.TypeString},
	{Name: "age", Type: core.TypeNumber, Nullable: true},
	{Name: "active", Type: core.TypeBoolean},
	{Name: "joined", Type: core.TypeDate, Nullable: true},
}

func person(name string, age float64, active bool, joined string) core.Row {
	return core.Row{
		{Name: "name", Value: core.StringValue(name)},
		{Name: "age", Value: core.NumberValue(age)},
		{Name: "active", Value: core.BoolValue(active)},
		{Name: "joined", Value: core.StringValue(joined)},
	}
}

func seedPeople(t *testing.T, s core.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "people", people))
	require.NoError(t, s.InsertBatch(ctx, "people", []core.Row{
		person("Alice", 30, true, "2024-01-15"),
		person("Bob", 25, false, "2023-06-01"),
		person("Carol", 30, false, "2024-01-15T10:30:00Z"),
		person("Dave", 41, true, ""),
		person("Eve", 25, true, "2022-12-31"),
	}))
}

func list(t *testing.T, s core.Store, table string, params url.Values, limit, offset int) core.ListResult {
	t.Helper()
	res, err := s.List(context.Background(), table, core.ListQuery{
		Filters: core.ParseFilters(params),
		Limit:   limit,
		Offset:  offset,
	})
	require.NoError(t, err)
	return res
}

func ids(recs []core.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func field(t *testing.T, rec core.Record, name string) core.Value {
	t.Helper()
	v, ok := rec.Fields.Get(name)
	require.True(t, ok, "field %q missing from record %d", name, rec.ID)
	return v
}

func testCreateTableIdempotent(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "sales", []core.ColumnSchema{{Name: "amount", Type: core.TypeNumber}}))
	_, err := s.Insert(ctx, "sales", core.Row{{Name: "amount", Value: core.NumberValue(10)}})
	require.NoError(t, err)

	require.NoError(t, s.CreateTable(ctx, "sales", []core.ColumnSchema{{Name: "region", Type: core.TypeString}}))

	cols, ok, err := s.GetSchema(ctx, "sales")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cols, 1)
	assert.Equal(t, "amount", cols[0].Name)
	assert.Equal(t, core.TypeNumber, cols[0].Type)
	assert.EqualValues(t, 1, list(t, s, "sales", nil, 0, 0).Total)
}

func testConcurrentCreateTable(t *testing.T, s core.Store) {
	ctx := context.Background()

	const callers = 8
	inputs := make([][]core.ColumnSchema, callers)
	for i := range inputs {
		inputs[i] = []core.ColumnSchema{
			{Name: "shared", Type: core.TypeString},
			{Name: fmt.Sprintf("col_%d", i), Type: core.TypeNumber, Nullable: true},
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cols := range inputs {
		g.Go(func() error {
			return s.CreateTable(gctx, "t", cols)
		})
	}
	require.NoError(t, g.Wait())

	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, names)

	cols, ok, err := s.GetSchema(ctx, "t")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cols, 2)
	assert.Equal(t, "shared", cols[0].Name)
	assert.Contains(t, inputs, []core.ColumnSchema{
		{Name: cols[0].Name, Type: cols[0].Type, Nullable: cols[0].Nullable},
		{Name: cols[1].Name, Type: cols[1].Type, Nullable: cols[1].Nullable},
	})
}

func testListTablesAndSchema(t *testing.T, s core.Store) {
	ctx := context.Background()
	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.CreateTable(ctx, "b_table", people))
	require.NoError(t, s.CreateTable(ctx, "a_table", nil))

	names, err = s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_table", "b_table"}, names)

	cols, ok, err := s.GetSchema(ctx, "b_table")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cols, len(people))
	for i, c := range people {
		assert.Equal(t, c.Name, cols[i].Name)
		assert.Equal(t, c.Type, cols[i].Type)
		assert.Equal(t, c.Nullable, cols[i].Nullable)
	}

	_, ok, err = s.GetSchema(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testInsertIDs(t *testing.T, s core.Store) {
	ctx := context.Background()
	var last int64
	for i := 0; i < 5; i++ {
		rec, err := s.Insert(ctx, "counter", core.Row{{Name: "n", Value: core.NumberValue(float64(i))}})
		require.NoError(t, err)
		assert.Greater(t, rec.ID, last)
		last = rec.ID
	}
	assert.EqualValues(t, 5, last)

	rec, ok, err := s.GetByID(ctx, "counter", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, field(t, rec, "n").Number())
}

func testConcurrentInserts(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "events", []core.ColumnSchema{{Name: "worker", Type: core.TypeNumber}}))

	const workers, perWorker = 8, 20
	var (
		mu  sync.Mutex
		got []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				rec, err := s.Insert(gctx, "events", core.Row{{Name: "worker", Value: core.NumberValue(float64(w))}})
				if err != nil {
					return err
				}
				mu.Lock()
				got = append(got, rec.ID)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, workers*perWorker)
	for i := 1; i < len(got); i++ {
		require.NotEqual(t, got[i-1], got[i], "duplicate id %d", got[i])
	}

	res := list(t, s, "events", nil, 0, 0)
	assert.EqualValues(t, workers*perWorker, res.Total)
	assert.Equal(t, got, ids(res.Records))
}

func testInsertNormalizes(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "people", people))

	rec, err := s.Insert(ctx, "people", core.Row{
		{Name: "id", Value: core.NumberValue(99)},
		{Name: "name", Value: core.StringValue("Zed")},
		{Name: "age", Value: core.StringValue("42")},
		{Name: "active", Value: core.StringValue("true")},
		{Name: "joined", Value: core.StringValue("03/04/2024")},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.ID)
	assert.Equal(t, core.KindNumber, field(t, rec, "age").Kind())
	assert.Equal(t, 42.0, field(t, rec, "age").Number())
	assert.Equal(t, core.KindBool, field(t, rec, "active").Kind())
	assert.True(t, field(t, rec, "active").Bool())
	assert.Equal(t, core.KindDate, field(t, rec, "joined").Kind())
	assert.Equal(t, "2024-03-04", field(t, rec, "joined").Text())

	got, ok, err := s.GetByID(ctx, "people", rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "age", "active", "joined"}, got.Fields.Names())
	assert.Equal(t, "2024-03-04", field(t, got, "joined").Text())
	assert.Equal(t, 42.0, field(t, got, "age").Number())
}

func testInsertRejects(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "people", people))

	_, err := s.Insert(ctx, "people", core.Row{{Name: "age", Value: core.StringValue("old")}})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err), "want validation error, got %v", err)

	rec, err := s.Insert(ctx, "people", core.Row{{Name: "name", Value: core.StringValue("ok")}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.ID, "rejected insert must not consume an id")
}

func testWritesExtendSchema(t *testing.T, s core.Store) {
	ctx := context.Background()
	rec, err := s.Insert(ctx, "adhoc", core.Row{
		{Name: "title", Value: core.StringValue("first")},
		{Name: "score", Value: core.NumberValue(1.5)},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.ID)

	_, err = s.Insert(ctx, "adhoc", core.Row{{Name: "done", Value: core.BoolValue(true)}})
	require.NoError(t, err)

	cols, ok, err := s.GetSchema(ctx, "adhoc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cols, 3)
	assert.Equal(t, core.TypeString, cols[0].Type)
	assert.Equal(t, core.TypeNumber, cols[1].Type)
	assert.Equal(t, "done", cols[2].Name)
	assert.Equal(t, core.TypeBoolean, cols[2].Type)
	assert.True(t, cols[2].Nullable)

	first, ok, err := s.GetByID(ctx, "adhoc", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, field(t, first, "done").IsNull())
}

func testInsertBatchAtomic(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "people", people))

	err := s.InsertBatch(ctx, "people", []core.Row{
		person("Alice", 30, true, "2024-01-15"),
		{{Name: "age", Value: core.StringValue("not a number")}},
	})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.EqualValues(t, 0, list(t, s, "people", nil, 0, 0).Total)

	rec, err := s.Insert(ctx, "people", person("Bob", 25, false, ""))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.ID)
}

func testInsertBatchOrder(t *testing.T, s core.Store) {
	seedPeople(t, s)
	res := list(t, s, "people", nil, 0, 0)
	require.EqualValues(t, 5, res.Total)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(res.Records))
	names := make([]string, len(res.Records))
	for i, r := range res.Records {
		names[i] = field(t, r, "name").Str()
	}
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Dave", "Eve"}, names)
	assert.True(t, field(t, res.Records[3], "joined").IsNull())
}

func testMissingTable(t *testing.T, s core.Store) {
	ctx := context.Background()
	res := list(t, s, "ghost", url.Values{"a": {"1"}}, 10, 0)
	assert.Empty(t, res.Records)
	assert.EqualValues(t, 0, res.Total)

	_, ok, err := s.GetByID(ctx, "ghost", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Update(ctx, "ghost", 1, core.Row{{Name: "a", Value: core.NumberValue(1)}})
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := s.Delete(ctx, "ghost", 1)
	require.NoError(t, err)
	assert.False(t, deleted)

	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "ghost")
}

func testPagination(t *testing.T, s core.Store) {
	seedPeople(t, s)
	first := list(t, s, "people", nil, 2, 0)
	second := list(t, s, "people", nil, 2, 2)
	all := list(t, s, "people", nil, 4, 0)

	assert.EqualValues(t, 5, first.Total)
	assert.EqualValues(t, 5, second.Total)
	assert.Equal(t, ids(all.Records), append(ids(first.Records), ids(second.Records)...))
}

func testOffsetBeyondEnd(t *testing.T, s core.Store) {
	seedPeople(t, s)
	res := list(t, s, "people", nil, 10, 50)
	assert.Empty(t, res.Records)
	assert.NotNil(t, res.Records)
	assert.EqualValues(t, 5, res.Total)
}

func testFilterNumber(t *testing.T, s core.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, "ages", core.Row{{Name: "age", Value: core.NumberValue(30)}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "ages", core.Row{{Name: "age", Value: core.NumberValue(25)}})
	require.NoError(t, err)

	res := list(t, s, "ages", url.Values{"age": {"30"}}, 0, 0)
	assert.Equal(t, []int64{1}, ids(res.Records))
	assert.EqualValues(t, 1, res.Total)

	res = list(t, s, "ages", url.Values{"age": {"30.0"}}, 0, 0)
	assert.Equal(t, []int64{1}, ids(res.Records))
}

func testFilterBoolString(t *testing.T, s core.Store) {
	seedPeople(t, s)
	res := list(t, s, "people", url.Values{"active": {"true"}, "age": {"25"}}, 0, 0)
	assert.Equal(t, []int64{5}, ids(res.Records))

	res = list(t, s, "people", url.Values{"name": {"Bob"}}, 0, 0)
	assert.Equal(t, []int64{2}, ids(res.Records))

	// "true" coerces to a boolean, which never equals a string column value.
	res = list(t, s, "people", url.Values{"name": {"true"}}, 0, 0)
	assert.Empty(t, res.Records)

	res = list(t, s, "people", url.Values{"age": {"30"}}, 1, 1)
	assert.Equal(t, []int64{3}, ids(res.Records))
	assert.EqualValues(t, 2, res.Total)
}

func testFilterDate(t *testing.T, s core.Store) {
	seedPeople(t, s)
	res := list(t, s, "people", url.Values{"joined": {"2024-01-15"}}, 0, 0)
	assert.Equal(t, []int64{1}, ids(res.Records))

	res = list(t, s, "people", url.Values{"joined": {"2024-01-15T10:30:00Z"}}, 0, 0)
	assert.Equal(t, []int64{3}, ids(res.Records))

	res = list(t, s, "people", url.Values{"joined": {"01/15/2024"}}, 0, 0)
	assert.Empty(t, res.Records, "non-canonical date text does not match")
}

func testFilterID(t *testing.T, s core.Store) {
	seedPeople(t, s)
	res := list(t, s, "people", url.Values{"id": {"4"}}, 0, 0)
	assert.Equal(t, []int64{4}, ids(res.Records))

	res = list(t, s, "people", url.Values{"id": {"4.5"}}, 0, 0)
	assert.Empty(t, res.Records)
}

func testFilterUnknownColumn(t *testing.T, s core.Store) {
	seedPeople(t, s)
	res := list(t, s, "people", url.Values{"nope": {"x"}}, 0, 0)
	assert.Empty(t, res.Records)
	assert.EqualValues(t, 0, res.Total)
}

func testUpdateMerges(t *testing.T, s core.Store) {
	seedPeople(t, s)
	ctx := context.Background()

	rec, ok, err := s.Update(ctx, "people", 2, core.Row{
		{Name: "id", Value: core.NumberValue(77)},
		{Name: "age", Value: core.StringValue("26")},
		{Name: "team", Value: core.StringValue("blue")},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, rec.ID)
	assert.Equal(t, "Bob", field(t, rec, "name").Str())
	assert.Equal(t, 26.0, field(t, rec, "age").Number())
	assert.Equal(t, "blue", field(t, rec, "team").Str())

	got, ok, err := s.GetByID(ctx, "people", 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 26.0, field(t, got, "age").Number())
	assert.False(t, field(t, got, "active").Bool())

	_, ok, err = s.GetByID(ctx, "people", 77)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Update(ctx, "people", 2, core.Row{{Name: "active", Value: core.StringValue("yes")}})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func testUpdateEmptyPatch(t *testing.T, s core.Store) {
	seedPeople(t, s)
	ctx := context.Background()
	before, ok, err := s.GetByID(ctx, "people", 1)
	require.NoError(t, err)
	require.True(t, ok)

	after, ok, err := s.Update(ctx, "people", 1, core.Row{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before.ID, after.ID)
	require.Equal(t, before.Fields.Names(), after.Fields.Names())
	for _, f := range before.Fields {
		assert.True(t, f.Value.Equal(field(t, after, f.Name)), "field %s changed", f.Name)
	}
}

func testUpdateMissing(t *testing.T, s core.Store) {
	seedPeople(t, s)
	_, ok, err := s.Update(context.Background(), "people", 42, core.Row{{Name: "name", Value: core.StringValue("x")}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeleteNeverReusesID(t *testing.T, s core.Store) {
	seedPeople(t, s)
	ctx := context.Background()

	deleted, err := s.Delete(ctx, "people", 5)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := s.GetByID(ctx, "people", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = s.Delete(ctx, "people", 5)
	require.NoError(t, err)
	assert.False(t, deleted)

	rec, err := s.Insert(ctx, "people", person("Frank", 50, true, ""))
	require.NoError(t, err)
	assert.EqualValues(t, 6, rec.ID)
}

func testDropTable(t *testing.T, s core.Store) {
	seedPeople(t, s)
	ctx := context.Background()

	dropped, err := s.DropTable(ctx, "people")
	require.NoError(t, err)
	assert.True(t, dropped)

	_, ok, err := s.GetSchema(ctx, "people")
	require.NoError(t, err)
	assert.False(t, ok)

	dropped, err = s.DropTable(ctx, "people")
	require.NoError(t, err)
	assert.False(t, dropped)

	rec, err := s.Insert(ctx, "people", core.Row{{Name: "name", Value: core.StringValue("again")}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.ID)
}

func testReset(t *testing.T, s core.Store) {
	seedPeople(t, s)
	ctx := context.Background()
	_, err := s.Insert(ctx, "other", core.Row{{Name: "x", Value: core.NumberValue(1)}})
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.EqualValues(t, 0, list(t, s, "people", nil, 0, 0).Total)
}

func testQuotedIdentifiers(t *testing.T, s core.Store) {
	ctx := context.Background()
	table := `odd "name"; drop`
	cols := []core.ColumnSchema{{Name: `col"umn`, Type: core.TypeString}, {Name: "with space", Type: core.TypeNumber}}
	require.NoError(t, s.CreateTable(ctx, table, cols))

	_, err := s.Insert(ctx, table, core.Row{
		{Name: `col"umn`, Value: core.StringValue(`va"lue`)},
		{Name: "with space", Value: core.NumberValue(3)},
	})
	require.NoError(t, err)

	res := list(t, s, table, url.Values{`col"umn`: {`va"lue`}}, 0, 0)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 3.0, field(t, res.Records[0], "with space").Number())

	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{table}, names)
}
