package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/storage/storetest"
)

// openTestStore connects to TEST_DATABASE_URL and empties the registry.
// The tests are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, config.StorageConfig{
		Driver:       config.DriverPostgres,
		URL:          url,
		MaxConns:     8,
		QueryTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() {
		_ = s.Reset(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return openTestStore(t) })
}

func TestCaseSensitiveColumns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Insert(ctx, "t", core.Row{{Name: "Name", Value: core.StringValue("a")}})
	require.NoError(t, err)
	rec, err := s.Insert(ctx, "t", core.Row{{Name: "name", Value: core.StringValue("b")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "name"}, rec.Fields.Names())
}

func TestTimestampsComeBackInUTC(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateTable(ctx, "events", []core.ColumnSchema{{Name: "at", Type: core.TypeDate}}))

	_, err := s.Insert(ctx, "events", core.Row{{Name: "at", Value: core.StringValue("2024-05-01T12:00:00+02:00")}})
	require.NoError(t, err)

	rec, ok, err := s.GetByID(ctx, "events", 1)
	require.NoError(t, err)
	require.True(t, ok)
	at, _ := rec.Fields.Get("at")
	assert.Equal(t, "2024-05-01T10:00:00Z", at.Text())
}

func TestCopyColumns(t *testing.T) {
	cols := []core.ColumnSchema{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	rows := []core.Row{
		{{Name: "c", Value: core.NumberValue(1)}},
		{{Name: "a", Value: core.NumberValue(2)}},
	}
	assert.Equal(t, []string{"a", "c"}, copyColumns(cols, rows))
	assert.Empty(t, copyColumns(cols, []core.Row{{}}))
}

func TestInsertBatchHonorsQueryTimeout(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.timeout = time.Nanosecond
	err := s.InsertBatch(ctx, "slow", []core.Row{{{Name: "n", Value: core.NumberValue(1)}}})
	require.Error(t, err)

	s.timeout = 30 * time.Second
	_, ok, err := s.GetSchema(ctx, "slow")
	require.NoError(t, err)
	assert.False(t, ok)
}
