package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/export"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redistest"
	"gitlab.diskarte.net/engineering/redis-admin/internal/scan"
)

func seed(srv *redistest.Server) {
	srv.SetString("user:1", "alice")
	srv.SetHash("user:2", map[string]string{"name": "bob"})
	srv.SetList("queue:1", "a", "b")
	srv.SetSet("tags:1", "x", "y")
	srv.SetZSet("board:1", map[string]float64{"p1": 1, "p2": 2.5})
}

func session(t *testing.T, srv *redistest.Server, pattern string) *scan.Session {
	t.Helper()
	sess, err := scan.Open(srv.Client(), pattern, 2, scan.Filters{})
	require.NoError(t, err)
	return sess
}

func TestDetectFormat(t *testing.T) {
	for path, want := range map[string]export.Format{
		"keys.json":    export.FormatJSON,
		"keys.json.gz": export.FormatJSON,
		"keys.csv":     export.FormatCSV,
		"keys.csv.gz":  export.FormatCSV,
		"keys.dump":    export.FormatDump,
	} {
		got, err := export.DetectFormat(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
	_, err := export.DetectFormat("keys.xml")
	assert.Error(t, err)
}

func TestExportImportJSON(t *testing.T) {
	src := redistest.NewServer()
	seed(src)
	src.SetTTL("user:1", time.Hour)
	path := filepath.Join(t.TempDir(), "keys.json")

	rep, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatJSON, path, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOK, rep.Status)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.NoFileExists(t, path+".tmp")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []map[string]interface{}
	require.NoError(t, sonic.ConfigStd.Unmarshal(data, &entries))
	assert.Len(t, entries, 5)
	// sorted-set scores are written as floats, integral ones included
	assert.Contains(t, string(data), `[{"member":"p1","score":1.0},{"member":"p2","score":2.5}]`)

	dst := redistest.NewServer()
	rep, err = export.New(dst.Client()).Import(context.Background(), path, export.FormatJSON, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOK, rep.Status)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.ElementsMatch(t, src.Keys(), dst.Keys())

	// the finite TTL survives the round trip
	ttl, err := dst.Client().PTTL(context.Background(), "user:1")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)

	v, err := dst.Client().GetSortedSet(context.Background(), "board:1")
	require.NoError(t, err)
	assert.Equal(t, []schema.ScoredMember{{Member: "p1", Score: 1}, {Member: "p2", Score: 2.5}}, v)
}

func TestExportImportCSV(t *testing.T) {
	src := redistest.NewServer()
	seed(src)
	path := filepath.Join(t.TempDir(), "keys.csv")

	rep, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatCSV, path, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Succeeded)

	dst := redistest.NewServer()
	rep, err = export.New(dst.Client()).Import(context.Background(), path, export.FormatCSV, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.Equal(t, schema.StatusOK, rep.Status)

	h, err := dst.Client().GetHash(context.Background(), "user:2")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "bob"}, h)
}

func TestExportGzip(t *testing.T) {
	src := redistest.NewServer()
	src.SetString("only", "value")
	path := filepath.Join(t.TempDir(), "keys.json.gz")

	_, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatJSON, path, export.Options{})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	var entries []map[string]interface{}
	require.NoError(t, sonic.ConfigStd.NewDecoder(gz).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "only", entries[0]["name"])

	dst := redistest.NewServer()
	rep, err := export.New(dst.Client()).Import(context.Background(), path, "", export.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Succeeded)
}

func TestExportDryRunWritesNothing(t *testing.T) {
	src := redistest.NewServer()
	seed(src)
	path := filepath.Join(t.TempDir(), "keys.json")

	rep, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatJSON, path, export.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".tmp")
}

func TestExportCancelledLeavesNoFile(t *testing.T) {
	src := redistest.NewServer()
	seed(src)
	path := filepath.Join(t.TempDir(), "keys.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := export.New(src.Client()).Export(ctx,
		session(t, src, "*"), export.FormatJSON, path, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCancelled, rep.Status)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".tmp")
}

func TestImportPatternFilter(t *testing.T) {
	src := redistest.NewServer()
	src.SetString("user:1", "a")
	src.SetString("order:1", "b")
	path := filepath.Join(t.TempDir(), "keys.json")
	_, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatJSON, path, export.Options{})
	require.NoError(t, err)

	dst := redistest.NewServer()
	rep, err := export.New(dst.Client()).Import(context.Background(), path, export.FormatJSON, export.Options{Pattern: "user:*"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Succeeded)
	assert.Equal(t, int64(1), rep.Skipped)
	assert.Equal(t, []string{"user:1"}, dst.Keys())
}

func TestImportExpiredEntrySkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	// hand-written export with a 1ms TTL recorded long ago
	body := `[
  {"name":"gone","type":"string","ttl":1,"value":"x"},
  {"name":"kept","type":"string","ttl":null,"value":"y"}
]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	dst := redistest.NewServer()
	rep, err := export.New(dst.Client()).Import(context.Background(), path, export.FormatJSON, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Succeeded)
	assert.Equal(t, int64(1), rep.Skipped)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, schema.KindExpired, rep.Errors[0].Kind)
	assert.Equal(t, []string{"kept"}, dst.Keys())
}

func TestImportMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	dst := redistest.NewServer()
	_, err := export.New(dst.Client()).Import(context.Background(), path, export.FormatJSON, export.Options{})
	var se *schema.SerializationError
	assert.ErrorAs(t, err, &se)
}

func TestImportDryRun(t *testing.T) {
	src := redistest.NewServer()
	seed(src)
	path := filepath.Join(t.TempDir(), "keys.json")
	_, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatJSON, path, export.Options{})
	require.NoError(t, err)

	dst := redistest.NewServer()
	rep, err := export.New(dst.Client()).Import(context.Background(), path, export.FormatJSON, export.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.Empty(t, dst.Keys())
}

func TestDumpArchiveRoundTrip(t *testing.T) {
	src := redistest.NewServer()
	seed(src)
	src.SetTTL("user:1", time.Hour)
	path := filepath.Join(t.TempDir(), "keys.dump")

	rep, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatDump, path, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOK, rep.Status)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.NoFileExists(t, path+".tmp")

	dst := redistest.NewServer()
	rep, err = export.New(dst.Client()).Import(context.Background(), path, export.FormatDump, export.Options{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOK, rep.Status)
	assert.Equal(t, int64(5), rep.Succeeded)
	assert.ElementsMatch(t, src.Keys(), dst.Keys())

	ttl, err := dst.Client().PTTL(context.Background(), "user:1")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)

	h, err := dst.Client().GetHash(context.Background(), "user:2")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "bob"}, h)
}

func TestRestoreWithoutReplaceRecordsBusyKeys(t *testing.T) {
	src := redistest.NewServer()
	src.SetString("user:1", "a")
	path := filepath.Join(t.TempDir(), "keys.dump")
	_, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatDump, path, export.Options{})
	require.NoError(t, err)

	dst := redistest.NewServer()
	dst.SetString("user:1", "already here")
	rep, err := export.New(dst.Client()).Import(context.Background(), path, export.FormatDump, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPartialFailure, rep.Status)
	assert.Equal(t, int64(1), rep.Failed)
}

func TestPreview(t *testing.T) {
	src := redistest.NewServer()
	src.SetString("user:1", "a")
	src.SetString("user:2", "b")
	path := filepath.Join(t.TempDir(), "keys.json")
	_, err := export.New(src.Client()).Export(context.Background(),
		session(t, src, "*"), export.FormatJSON, path, export.Options{})
	require.NoError(t, err)

	dst := redistest.NewServer()
	dst.SetString("user:2", "old")
	total, existing, err := export.New(dst.Client()).Preview(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), existing)
}
