package priority

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	sharedredis "github.com/cuongbtq/cati-assign/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls atomic.Int32
	m     map[string]int
	err   error
}

func (l *countingLoader) Load(context.Context) (map[string]int, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[string]int, len(l.m))
	for k, v := range l.m {
		out[k] = v
	}
	return out, nil
}

func newTestTable(t *testing.T, loader Loader) (*Table, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := sharedredis.NewFromUniversal(rdb, 500*time.Millisecond, logger)
	return NewTable(client, loader, time.Minute, logger), mr
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]int
		wantErr bool
	}{
		{
			name:  "operator export with mixed types",
			input: `[{"AC_Name": "Zone A", "Priority": 5}, {"AC_Name": "Zone B", "Priority": "2"}, {"AC_Name": "Zone C", "Priority": "n/a"}, {"Priority": 1}]`,
			want:  map[string]int{"Zone A": 5, "Zone B": 2},
		},
		{
			name:  "yaml mapping",
			input: "Zone A: 5\nZone B: 0\n",
			want:  map[string]int{"Zone A": 5, "Zone B": 0},
		},
		{
			name:  "empty document",
			input: "",
			want:  map[string]int{},
		},
		{
			name:    "scalar document",
			input:   "42",
			wantErr: true,
		},
		{
			name:    "malformed",
			input:   "[{",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priorities.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"AC_Name": "Zone A", "Priority": 3}]`), 0o600))

	m, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Zone A": 3}, m)

	_, err = NewFileLoader(filepath.Join(dir, "missing.json")).Load(context.Background())
	assert.ErrorContains(t, err, "failed to read priority file")
}

func TestTable_CachesAcrossLevels(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{m: map[string]int{"Zone A": 5, "Zone B": 1}}
	table, mr := newTestTable(t, loader)

	assert.Equal(t, 5, table.GetPriority(ctx, "Zone A"))
	assert.Equal(t, 0, table.GetPriority(ctx, "Zone Z"))
	assert.Equal(t, int32(1), loader.calls.Load(), "process snapshot should serve repeat reads")

	assert.True(t, mr.Exists(CacheKey))
	assert.Greater(t, mr.TTL(CacheKey), time.Duration(0))

	// a second process shares the Redis copy without touching the loader
	other := &countingLoader{m: map[string]int{"Zone A": 99}}
	table2 := NewTable(sharedredis.NewFromUniversal(table.rdb, time.Second, table.logger), other, time.Minute, table.logger)
	assert.Equal(t, 5, table2.GetPriority(ctx, "Zone A"))
	assert.Equal(t, int32(0), other.calls.Load())
}

func TestTable_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{m: map[string]int{"Zone A": 5}}
	table, mr := newTestTable(t, loader)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table.now = func() time.Time { return clock }

	assert.Equal(t, 5, table.GetPriority(ctx, "Zone A"))

	loader.m = map[string]int{"Zone A": 7}
	clock = clock.Add(2 * time.Minute)
	mr.FastForward(2 * time.Minute)

	assert.Equal(t, 7, table.GetPriority(ctx, "Zone A"))
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestTable_Reload(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{m: map[string]int{"Zone A": 5}}
	table, _ := newTestTable(t, loader)

	assert.Equal(t, 5, table.GetPriority(ctx, "Zone A"))

	loader.m = map[string]int{"Zone A": 1}
	m := table.Reload(ctx)
	assert.Equal(t, map[string]int{"Zone A": 1}, m)
	assert.Equal(t, 1, table.GetPriority(ctx, "Zone A"))
}

func TestTable_LoaderFailureIsFailSafe(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{err: errors.New("permission denied")}
	table, _ := newTestTable(t, loader)

	assert.Empty(t, table.Map(ctx))
	assert.Equal(t, 0, table.GetPriority(ctx, "Zone A"))
}

func TestTable_RedisDownFallsBackToLoader(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{m: map[string]int{"Zone A": 4}}
	table, mr := newTestTable(t, loader)
	mr.Close()

	assert.Equal(t, 4, table.GetPriority(ctx, "Zone A"))
}

func TestTable_ActiveZones(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{m: map[string]int{"A": 1, "B": 5, "C": 0, "D": 5}}
	table, _ := newTestTable(t, loader)

	zones := table.ActiveZones(ctx, []string{"A", "B", "C", "D", "E"})
	assert.Equal(t, []domain.Zone{
		{Name: "B", Priority: 5},
		{Name: "D", Priority: 5},
		{Name: "A", Priority: 1},
	}, zones)
}
