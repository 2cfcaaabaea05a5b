package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/scanner"
)

// fakeRow scans canned values into the caller's destinations; nil values
// leave pointer destinations nil, matching a SQL NULL.
type fakeRow struct {
	vals []any
}

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("expected %d scan destinations, got %d", len(r.vals), len(dest))
	}
	for i, d := range dest {
		v := r.vals[i]
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(d).Elem()
		sv := reflect.ValueOf(v)
		if !sv.Type().ConvertibleTo(rv.Type()) {
			return fmt.Errorf("cannot scan %T into %T at index %d", v, d, i)
		}
		rv.Set(sv.Convert(rv.Type()))
	}
	return nil
}

// fakeInventoryDB answers the inventory upsert statements by echoing the
// insert arguments back as a row, and counts how many of each hit it.
type fakeInventoryDB struct {
	assetSQL       string
	assetInserts   int
	serviceInserts int
	edgeInserts    int
}

func (f *fakeInventoryDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeInventoryDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func (f *fakeInventoryDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "INSERT INTO assets"):
		f.assetSQL = sql
		f.assetInserts++
		runID := args[5].(string)
		now := args[6].(time.Time)
		return fakeRow{vals: []any{
			args[0], args[1], args[2], args[3], args[4],
			&runID, &runID, &now, &now,
			string(models.StatusActive), nil, nil, nil, now,
		}}
	case strings.Contains(sql, "INSERT INTO services"):
		f.serviceInserts++
		runID := args[8].(string)
		now := args[9].(time.Time)
		return fakeRow{vals: []any{
			args[0], args[1], args[2], args[3], args[4],
			nullableStr(args[5]), nullableStr(args[6]), nullableStr(args[7]),
			&runID, &runID, &now, &now,
			string(models.StatusActive), nil, nil, nil, now,
		}}
	case strings.Contains(sql, "INSERT INTO edges"):
		f.edgeInserts++
		runID := args[5].(string)
		now := args[6].(time.Time)
		return fakeRow{vals: []any{
			args[0], args[1], args[2], args[3], args[4],
			&runID, &runID, &now, &now, now,
		}}
	}
	return fakeRow{}
}

func nullableStr(v any) any {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	return &s
}

func TestIngestScanResultDedupsArtifactsWithinBatch(t *testing.T) {
	db := &fakeInventoryDB{}
	repo := NewInventoryRepository(nil)

	res := &scanner.Result{
		Status: scanner.StatusCompleted,
		Assets: []scanner.AssetArtifact{
			{Type: "subdomain", Value: "WWW.Example.com", Normalized: "www.example.com"},
			{Type: "subdomain", Value: "www.example.com", Normalized: "www.example.com"},
		},
		Services: []scanner.ServiceArtifact{
			{HostType: "ip", HostValue: "10.0.0.1", HostNormalized: "10.0.0.1", Port: 80, Proto: "tcp", Name: "http"},
			// Same port reported again with the proto left blank.
			{HostType: "ip", HostValue: "10.0.0.1", HostNormalized: "10.0.0.1", Port: 80},
			{HostType: "ip", HostValue: "10.0.0.1", HostNormalized: "10.0.0.1", Port: 443, Proto: "tcp"},
		},
		Edges: []scanner.EdgeArtifact{
			{FromType: "subdomain", FromValue: "www.example.com", FromNormalized: "www.example.com", ToType: "ip", ToValue: "10.0.0.1", ToNormalized: "10.0.0.1", RelType: "resolves_to"},
			{FromType: "subdomain", FromValue: "www.example.com", FromNormalized: "www.example.com", ToType: "ip", ToValue: "10.0.0.1", ToNormalized: "10.0.0.1", RelType: "resolves_to"},
		},
	}

	stats, err := repo.IngestScanResult(context.Background(), db, "01TGT", "01RUN", res)
	require.NoError(t, err)

	// One subdomain plus the auto-created ip host.
	assert.Equal(t, 2, stats.Assets)
	assert.Equal(t, 2, stats.Services)
	assert.Equal(t, 1, stats.Edges)

	assert.Equal(t, 2, db.assetInserts)
	assert.Equal(t, 2, db.serviceInserts)
	assert.Equal(t, 1, db.edgeInserts)
}

func TestIngestScanResultEmptyBatch(t *testing.T) {
	db := &fakeInventoryDB{}
	repo := NewInventoryRepository(nil)

	stats, err := repo.IngestScanResult(context.Background(), db, "01TGT", "01RUN", &scanner.Result{})
	require.NoError(t, err)
	assert.Equal(t, &IngestStats{}, stats)
	assert.Zero(t, db.assetInserts)
}

// Re-observing an asset must refresh the stored value: the normalized form
// is the dedup key, but the raw observed string follows the latest sighting.
func TestUpsertAssetSeenRefreshesValueOnConflict(t *testing.T) {
	db := &fakeInventoryDB{}
	repo := NewInventoryRepository(nil)

	a, err := repo.UpsertAssetSeen(context.Background(), db, "01TGT", "01RUN", models.AssetSubdomain, "WWW.Example.com", "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "WWW.Example.com", a.Value)
	assert.Equal(t, "www.example.com", a.Normalized)
	assert.Equal(t, models.StatusActive, a.Status)
	assert.Contains(t, db.assetSQL, "value = EXCLUDED.value")
}
