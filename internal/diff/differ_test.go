package diff

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/piisentry/scanner/internal/classify"
	"github.com/piisentry/scanner/internal/controlplane"
	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

// fakeConnector serves canned discovery results and chunk bodies.
type fakeConnector struct {
	objects    []schema.Metadata
	content    map[string]string // fullPath:offset -> text
	fetchCalls int
}

func (f *fakeConnector) Service() schema.Service                   { return schema.ServiceS3 }
func (f *fakeConnector) SourceConfiguration(context.Context) error { return nil }

func (f *fakeConnector) Discover(context.Context) ([]schema.Metadata, error) {
	return append([]schema.Metadata(nil), f.objects...), nil
}

func (f *fakeConnector) Fetch(_ context.Context, fullPath, _ string, _, offset int64) (*filedata.Content, error) {
	f.fetchCalls++
	text, ok := f.content[fmt.Sprintf("%s:%d", fullPath, offset)]
	if !ok {
		return nil, fmt.Errorf("no canned content for %s at %d", fullPath, offset)
	}
	return &filedata.Content{Text: text}, nil
}

func (f *fakeConnector) ExcludeRedundant(objects []schema.Metadata) []schema.Metadata {
	return objects
}

// fakeControlPlane records every mutation the differ pushes, in call
// order, and serves the canned record and wait-for-scan listings.
type fakeControlPlane struct {
	mu       sync.Mutex
	existing []schema.Metadata
	waiting  []schema.Chunk

	calls         []string
	createdMeta   [][]schema.Metadata
	updatedMeta   [][]schema.Metadata
	deletedMeta   [][]string
	createdChunks [][]schema.Chunk
	resetChunks   [][]schema.Chunk
	resetRaw      []string
	deletedChunks [][]string
	released      [][]string
}

type idsBody struct {
	IDs []string `json:"ids"`
}

func readBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	var rd io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		rd = zr
	}
	raw, err := io.ReadAll(rd)
	require.NoError(t, err)
	return raw
}

func decodeJSON(t *testing.T, r *http.Request, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(readBody(t, r), out))
}

func (f *fakeControlPlane) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.Method + " " + r.URL.Path
		f.calls = append(f.calls, key)
		switch key {
		case "GET customer_account/file-metadata/filter":
			json.NewEncoder(w).Encode(f.existing)
		case "GET customer_account/data-chunks/filter":
			json.NewEncoder(w).Encode(f.waiting)
		case "POST customer_account/batch-file-metadata":
			var recs []schema.Metadata
			decodeJSON(t, r, &recs)
			f.createdMeta = append(f.createdMeta, recs)
		case "PUT customer_account/batch-file-metadata":
			var recs []schema.Metadata
			decodeJSON(t, r, &recs)
			f.updatedMeta = append(f.updatedMeta, recs)
		case "DELETE customer_account/delete-batch-metadata":
			var body idsBody
			decodeJSON(t, r, &body)
			f.deletedMeta = append(f.deletedMeta, body.IDs)
		case "POST customer_account/data-chunks-batch":
			var chunks []schema.Chunk
			decodeJSON(t, r, &chunks)
			f.createdChunks = append(f.createdChunks, chunks)
		case "PATCH customer_account/data-chunks-batch":
			raw := readBody(t, r)
			f.resetRaw = append(f.resetRaw, string(raw))
			var chunks []schema.Chunk
			require.NoError(t, json.Unmarshal(raw, &chunks))
			f.resetChunks = append(f.resetChunks, chunks)
		case "DELETE customer_account/data-chunks-batch":
			var body idsBody
			decodeJSON(t, r, &body)
			f.deletedChunks = append(f.deletedChunks, body.IDs)
		case "PATCH customer_account/not-ignored-file-metadata":
			var body idsBody
			decodeJSON(t, r, &body)
			f.released = append(f.released, body.IDs)
		default:
			t.Errorf("unexpected control plane call %s", key)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// callIndex returns the position of the first call matching key, or -1.
func (f *fakeControlPlane) callIndex(key string) int {
	for i, c := range f.calls {
		if c == key {
			return i
		}
	}
	return -1
}

func newDiffer(t *testing.T, fake *fakeControlPlane, conn *fakeConnector, filter *classify.FilenameFilter) *Differ {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 300})
	})
	mux.Handle("/api/", http.StripPrefix("/api/", fake.handler(t)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := controlplane.NewWithBase(srv.URL+"/api/", srv.URL+"/token", "tenant", "secret",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(client.Close)

	if filter == nil {
		var err error
		filter, err = classify.NewFilenameFilter(nil)
		require.NoError(t, err)
	}
	return New(client, conn, filter, "acct-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func s3Source() schema.SourceInput {
	return schema.SourceInput{Service: schema.ServiceS3, Bucket: "lake"}
}

func strPtr(s string) *string { return &s }

func TestReconcileCreatesNewObjects(t *testing.T) {
	discovered := schema.Metadata{
		Service:    schema.ServiceS3,
		FullPath:   "lake/data.bin",
		FetchPath:  "data.bin",
		ObjectName: "data.bin",
		ETag:       "v1",
		Size:       2_500_000,
		Source:     "lake",
		Chunks: []schema.Chunk{
			{ObjectName: "data.bin", FullPath: "lake/data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
			{ObjectName: "data.bin", FullPath: "lake/data.bin", Offset: "1000000", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
			{ObjectName: "data.bin", FullPath: "lake/data.bin", Offset: "2000000", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
		},
	}
	fake := &fakeControlPlane{
		waiting: []schema.Chunk{
			{ID: "ch-1", Offset: "0"}, {ID: "ch-2", Offset: "1000000"}, {ID: "ch-3", Offset: "2000000"},
		},
	}
	conn := &fakeConnector{objects: []schema.Metadata{discovered}}
	d := newDiffer(t, fake, conn, nil)

	chunks, err := d.Reconcile(context.Background(), schema.Classification{ID: "cls-1"}, s3Source())
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	require.Len(t, fake.createdMeta, 1)
	require.Len(t, fake.createdMeta[0], 1)
	require.Equal(t, "lake/data.bin", fake.createdMeta[0][0].FullPath)
	require.Len(t, fake.createdMeta[0][0].Chunks, 3)
	require.Empty(t, fake.updatedMeta)
	require.Empty(t, fake.deletedMeta)
}

func TestReconcileSweepsVanishedObjects(t *testing.T) {
	fake := &fakeControlPlane{
		existing: []schema.Metadata{{ID: "m-gone", FullPath: "lake/gone.csv"}},
	}
	conn := &fakeConnector{}
	d := newDiffer(t, fake, conn, nil)

	chunks, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)
	require.Empty(t, chunks)
	require.Equal(t, [][]string{{"m-gone"}}, fake.deletedMeta)
}

func TestReconcileSweepsChunksAfterShrink(t *testing.T) {
	fake := &fakeControlPlane{
		existing: []schema.Metadata{{
			ID:       "m-1",
			FullPath: "lake/data.bin",
			ETag:     "v1",
			Size:     2_000_000,
			Chunks: []schema.Chunk{
				{ID: "ch-0", ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity},
				{ID: "ch-1", ObjectName: "data.bin", Offset: "1000000", Limit: schema.ChunkBytesCapacity},
			},
		}},
	}
	conn := &fakeConnector{objects: []schema.Metadata{{
		FullPath:   "lake/data.bin",
		ObjectName: "data.bin",
		ETag:       "v2",
		Size:       500_000,
		Chunks: []schema.Chunk{
			{ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
		},
	}}}
	d := newDiffer(t, fake, conn, nil)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)

	// The out-of-plan chunk goes; the surviving one was never scanned, so
	// the content pass leaves it alone.
	require.Equal(t, [][]string{{"ch-1"}}, fake.deletedChunks)
	require.Empty(t, fake.resetChunks)
	require.Len(t, fake.updatedMeta, 1)
	require.EqualValues(t, 500_000, fake.updatedMeta[0][0].Size)
	require.Equal(t, "v2", fake.updatedMeta[0][0].ETag)
}

func TestReconcileGrowthAndDriftUpdatesBeforeCreates(t *testing.T) {
	staleBody := "old content that was scanned"
	sameBody := "this part never changed"
	staleHash := classify.HashChunkBody(staleBody)
	sameHash := classify.HashChunkBody(sameBody)

	fake := &fakeControlPlane{
		existing: []schema.Metadata{{
			ID:       "m-1",
			FullPath: "lake/data.bin",
			ETag:     "v1",
			Size:     2_000_000,
			Chunks: []schema.Chunk{
				{ID: "ch-0", ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusScanned, Hash: &staleHash},
				{ID: "ch-1", ObjectName: "data.bin", Offset: "1000000", Limit: schema.ChunkBytesCapacity, Status: schema.StatusScanned, Hash: &sameHash},
			},
		}},
	}
	conn := &fakeConnector{
		objects: []schema.Metadata{{
			FullPath:   "lake/data.bin",
			ObjectName: "data.bin",
			ETag:       "v2",
			Size:       2_500_000,
			Chunks: []schema.Chunk{
				{ObjectName: "data.bin", FullPath: "lake/data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
				{ObjectName: "data.bin", FullPath: "lake/data.bin", Offset: "1000000", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
				{ObjectName: "data.bin", FullPath: "lake/data.bin", Offset: "2000000", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
			},
		}},
		content: map[string]string{
			"lake/data.bin:0":       "rewritten content with new secrets",
			"lake/data.bin:1000000": strings.Repeat("x", schema.OverlapBytes) + sameBody,
		},
	}
	d := newDiffer(t, fake, conn, nil)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)

	// Only the drifted chunk regresses; the byte-identical one keeps its
	// scan results.
	require.Len(t, fake.resetChunks, 1)
	require.Len(t, fake.resetChunks[0], 1)
	require.Equal(t, "ch-0", fake.resetChunks[0][0].ID)
	require.Equal(t, schema.StatusWaitForScan, fake.resetChunks[0][0].Status)

	// The regression must null the bookkeeping on the wire, or the
	// control plane keeps the stale hash, scan time, labels and owner.
	require.Len(t, fake.resetRaw, 1)
	for _, cleared := range []string{`"hash":null`, `"scanned_at":null`, `"instance_id":null`, `"labels":null`} {
		require.Contains(t, fake.resetRaw[0], cleared)
	}

	// Growth adds the third tile under the existing record.
	require.Len(t, fake.createdChunks, 1)
	require.Len(t, fake.createdChunks[0], 1)
	require.Equal(t, "2000000", fake.createdChunks[0][0].Offset)
	require.Equal(t, "m-1", fake.createdChunks[0][0].MetadataID)

	// A failure between the two calls must never leave stale results, so
	// the regression lands first.
	up := fake.callIndex("PATCH customer_account/data-chunks-batch")
	cr := fake.callIndex("POST customer_account/data-chunks-batch")
	require.GreaterOrEqual(t, up, 0)
	require.GreaterOrEqual(t, cr, 0)
	require.Less(t, up, cr)

	// The changed object is not re-created.
	require.Empty(t, fake.createdMeta)
}

func TestReconcileSkipsContentProbeWhenETagUnchanged(t *testing.T) {
	hash := classify.HashChunkBody("whatever")
	fake := &fakeControlPlane{
		existing: []schema.Metadata{{
			ID:       "m-1",
			FullPath: "lake/data.bin",
			ETag:     "v1",
			Size:     1_000,
			Chunks: []schema.Chunk{
				{ID: "ch-0", ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusInProgress, Hash: &hash},
			},
		}},
	}
	conn := &fakeConnector{objects: []schema.Metadata{{
		FullPath:   "lake/data.bin",
		ObjectName: "data.bin",
		ETag:       "v1",
		Size:       1_000,
		Chunks: []schema.Chunk{
			{ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
		},
	}}}
	d := newDiffer(t, fake, conn, nil)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)
	require.Zero(t, conn.fetchCalls)
	require.Empty(t, fake.resetChunks)
	require.Empty(t, fake.updatedMeta)
}

func TestReconcileShrinkToEmptyAggregatesScanned(t *testing.T) {
	fake := &fakeControlPlane{
		existing: []schema.Metadata{{
			ID:       "m-1",
			FullPath: "lake/data.bin",
			ETag:     "v1",
			Size:     1_000,
			Status:   schema.StatusWaitForScan,
			Chunks: []schema.Chunk{
				{ID: "ch-0", ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity},
			},
		}},
	}
	conn := &fakeConnector{objects: []schema.Metadata{{
		FullPath:   "lake/data.bin",
		ObjectName: "data.bin",
		ETag:       "v2",
		Size:       0,
	}}}
	d := newDiffer(t, fake, conn, nil)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)

	require.Equal(t, [][]string{{"ch-0"}}, fake.deletedChunks)
	require.Len(t, fake.updatedMeta, 1)
	up := fake.updatedMeta[0][0]
	require.EqualValues(t, 0, up.Size)
	// With nothing left to scan the record lands terminal, not parked
	// in its old state.
	require.Equal(t, schema.StatusScanned, up.Status)
	require.Empty(t, fake.createdChunks)
	require.Empty(t, fake.resetChunks)
}

func filenameFilter(t *testing.T, classifiers ...schema.Classifier) *classify.FilenameFilter {
	t.Helper()
	f, err := classify.NewFilenameFilter(classifiers)
	require.NoError(t, err)
	return f
}

func TestReconcileIgnoresAndReleases(t *testing.T) {
	filter := filenameFilter(t, schema.Classifier{
		Name: "LOG_FILES", Engine: schema.EngineRE2, Kind: schema.KindFilename,
		Category: schema.CategoryExclude, Patterns: []string{`\.log$`},
	})
	fake := &fakeControlPlane{
		existing: []schema.Metadata{
			{
				ID: "m-old", FullPath: "lake/old.log", ETag: "v1", Size: 10,
				Status: schema.StatusWaitForScan,
				Chunks: []schema.Chunk{{ID: "ch-9", ObjectName: "old.log", Offset: "0", Limit: schema.ChunkBytesCapacity}},
			},
			{ID: "m-keep", FullPath: "lake/keep.csv", ETag: "v1", Size: 10, Status: schema.StatusIgnored},
		},
	}
	conn := &fakeConnector{objects: []schema.Metadata{
		{FullPath: "lake/app.log", ObjectName: "app.log", ETag: "v1", Size: 10,
			Chunks: []schema.Chunk{{ObjectName: "app.log", Offset: "0", Limit: schema.ChunkBytesCapacity}}},
		{FullPath: "lake/old.log", ObjectName: "old.log", ETag: "v1", Size: 10,
			Chunks: []schema.Chunk{{ObjectName: "old.log", Offset: "0", Limit: schema.ChunkBytesCapacity}}},
		{FullPath: "lake/keep.csv", ObjectName: "keep.csv", ETag: "v1", Size: 10,
			Chunks: []schema.Chunk{{ObjectName: "keep.csv", Offset: "0", Limit: schema.ChunkBytesCapacity}}},
	}}
	d := newDiffer(t, fake, conn, filter)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)

	// The never-seen match lands ignored, without a chunk plan.
	require.Len(t, fake.createdMeta, 1)
	require.Len(t, fake.createdMeta[0], 1)
	require.Equal(t, "lake/app.log", fake.createdMeta[0][0].FullPath)
	require.Equal(t, schema.StatusIgnored, fake.createdMeta[0][0].Status)
	require.Empty(t, fake.createdMeta[0][0].Chunks)

	// The known match is demoted and its chunks dropped.
	require.Len(t, fake.updatedMeta, 1)
	require.Equal(t, "m-old", fake.updatedMeta[0][0].ID)
	require.Equal(t, schema.StatusIgnored, fake.updatedMeta[0][0].Status)
	require.Equal(t, [][]string{{"ch-9"}}, fake.deletedChunks)

	// The ignored record whose name stopped matching is released.
	require.Equal(t, [][]string{{"m-keep"}}, fake.released)
}

func TestReconcileInclusionGateAttachesLabels(t *testing.T) {
	filter := filenameFilter(t, schema.Classifier{
		Name: "CSV_ONLY", Engine: schema.EngineRE2, Kind: schema.KindFilename,
		Category: schema.CategoryInclude, Patterns: []string{`\.csv$`}, Labels: []string{"pii"},
	})
	fake := &fakeControlPlane{}
	conn := &fakeConnector{objects: []schema.Metadata{
		{FullPath: "lake/a.csv", ObjectName: "a.csv", ETag: "v1", Size: 10,
			Chunks: []schema.Chunk{{ObjectName: "a.csv", Offset: "0", Limit: schema.ChunkBytesCapacity}}},
		{FullPath: "lake/b.txt", ObjectName: "b.txt", ETag: "v1", Size: 10,
			Chunks: []schema.Chunk{{ObjectName: "b.txt", Offset: "0", Limit: schema.ChunkBytesCapacity}}},
	}}
	d := newDiffer(t, fake, conn, filter)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)

	require.Len(t, fake.createdMeta, 1)
	require.Len(t, fake.createdMeta[0], 1)
	created := fake.createdMeta[0][0]
	require.Equal(t, "lake/a.csv", created.FullPath)
	require.Contains(t, created.Labels, "pii")
	require.Len(t, created.Chunks, 1)
	require.Contains(t, created.Chunks[0].Labels, "pii")
}

func TestReconcileRestrictsToDataObjects(t *testing.T) {
	fake := &fakeControlPlane{}
	conn := &fakeConnector{objects: []schema.Metadata{
		{FullPath: "lake/users.csv", ObjectName: "users.csv", ETag: "v1", Size: 10},
		{FullPath: "lake/other.csv", ObjectName: "other.csv", ETag: "v1", Size: 10},
	}}
	d := newDiffer(t, fake, conn, nil)

	cls := schema.Classification{DataObjects: []string{"users.csv"}}
	_, err := d.Reconcile(context.Background(), cls, s3Source())
	require.NoError(t, err)

	require.Len(t, fake.createdMeta, 1)
	require.Len(t, fake.createdMeta[0], 1)
	require.Equal(t, "lake/users.csv", fake.createdMeta[0][0].FullPath)
}

func TestReconcilePrunesFullyScannedAtSameETag(t *testing.T) {
	fake := &fakeControlPlane{
		existing: []schema.Metadata{{
			ID: "m-1", FullPath: "lake/data.bin", ETag: "v1", Size: 1_000,
			Chunks: []schema.Chunk{
				{ID: "ch-0", ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity,
					Status: schema.StatusScanned, Hash: strPtr("deadbeef")},
			},
		}},
	}
	conn := &fakeConnector{objects: []schema.Metadata{{
		FullPath:   "lake/data.bin",
		ObjectName: "data.bin",
		ETag:       "v1",
		Size:       1_000,
		Chunks: []schema.Chunk{
			{ObjectName: "data.bin", Offset: "0", Limit: schema.ChunkBytesCapacity, Status: schema.StatusWaitForScan},
		},
	}}}
	d := newDiffer(t, fake, conn, nil)

	_, err := d.Reconcile(context.Background(), schema.Classification{}, s3Source())
	require.NoError(t, err)

	require.Empty(t, fake.createdMeta)
	require.Empty(t, fake.updatedMeta)
	require.Empty(t, fake.deletedMeta)
	require.Empty(t, fake.createdChunks)
	require.Empty(t, fake.resetChunks)
	require.Empty(t, fake.deletedChunks)
}
