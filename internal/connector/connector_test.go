package connector

import (
	"strconv"
	"testing"

	"github.com/piisentry/scanner/internal/schema"
)

func TestPlanChunksTiling(t *testing.T) {
	chunks := planChunks("data.bin", "bucket/data.bin", "data.bin",
		2_500_000, schema.ChunkBytesCapacity, "i-123")
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, ch := range chunks {
		wantOffset := strconv.Itoa(i * schema.ChunkBytesCapacity)
		if ch.Offset != wantOffset {
			t.Errorf("chunk %d offset = %q, want %q", i, ch.Offset, wantOffset)
		}
		if ch.Limit != schema.ChunkBytesCapacity {
			t.Errorf("chunk %d limit = %d", i, ch.Limit)
		}
		if ch.Status != schema.StatusWaitForScan {
			t.Errorf("chunk %d status = %q", i, ch.Status)
		}
		if ch.InstanceID == nil || *ch.InstanceID != "i-123" {
			t.Errorf("chunk %d instance id = %v", i, ch.InstanceID)
		}
	}
}

func TestPlanChunksExactMultiple(t *testing.T) {
	chunks := planChunks("t", "db/t", "t", 200_000, schema.ChunkRowsCapacity, "i-1")
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestPlanChunksEmptyObject(t *testing.T) {
	if got := planChunks("t", "db/t", "t", 0, schema.ChunkRowsCapacity, "i-1"); got != nil {
		t.Errorf("empty object planned chunks: %v", got)
	}
}

func TestOverlapRange(t *testing.T) {
	tests := []struct {
		offset, limit int64
		wantStart     int64
		wantLength    int64
	}{
		{0, 1000, 0, 1000},
		{1_000_000, 1_000_000, 1_000_000 - schema.OverlapBytes, 1_000_000 + schema.OverlapBytes},
		{100, 1000, 0, 1100}, // offset below the overlap pads only what exists
	}
	for _, tt := range tests {
		start, length := overlapRange(tt.offset, tt.limit)
		if start != tt.wantStart || length != tt.wantLength {
			t.Errorf("overlapRange(%d, %d) = (%d, %d), want (%d, %d)",
				tt.offset, tt.limit, start, length, tt.wantStart, tt.wantLength)
		}
	}
}

func TestSliceTextBounds(t *testing.T) {
	text := "0123456789"
	if got := sliceText(text, 0, 4); got != "0123" {
		t.Errorf("got %q", got)
	}
	// Offset 4 widens left by min(overlap, offset) = 4.
	if got := sliceText(text, 4, 4); got != "01234567" {
		t.Errorf("got %q", got)
	}
	if got := sliceText(text, 50, 4); got != "" {
		t.Errorf("past-end slice = %q", got)
	}
	if got := sliceText(text, 8, 100); got != "0123456789" {
		t.Errorf("overshoot = %q", got)
	}
}

func TestS3ExcludeRedundant(t *testing.T) {
	c := &S3{source: schema.SourceInput{Service: schema.ServiceS3, Bucket: "b"}}
	in := []schema.Metadata{
		{FetchPath: "AWSLogs/vpcflowlogs/2024/x.gz", ObjectName: "x.gz"},
		{FetchPath: "AWSLogs/CloudTrail/2024/y.json", ObjectName: "y.json"},
		{FetchPath: "app/server-log.txt", ObjectName: "server-log.txt"},
		{FetchPath: "exports/users.csv", ObjectName: "users.csv"},
		{FetchPath: "exports/login_audit.csv", ObjectName: "login_audit.csv"},
	}
	out := c.ExcludeRedundant(in)
	if len(out) != 1 || out[0].ObjectName != "users.csv" {
		t.Errorf("ExcludeRedundant = %+v", out)
	}
}

func TestTableETagDeterministic(t *testing.T) {
	if tableETag("users", 100) != tableETag("users", 100) {
		t.Error("etag must be deterministic")
	}
	if tableETag("users", 100) == tableETag("users", 101) {
		t.Error("row count change must change the etag")
	}
}

func TestSQLQuoteIdentByDialect(t *testing.T) {
	pg := &sqlSource{service: schema.ServiceRDS, source: schema.SourceInput{Engine: "aurora-postgresql"}}
	if got := pg.quoteIdent(`us"ers`); got != `"users"` {
		t.Errorf("postgres quote = %q", got)
	}
	my := &sqlSource{service: schema.ServiceRDS, source: schema.SourceInput{Engine: "mysql"}}
	if got := my.quoteIdent("us`ers"); got != "`users`" {
		t.Errorf("mysql quote = %q", got)
	}
	rs := &sqlSource{service: schema.ServiceRedshift}
	if got := rs.quoteIdent("events"); got != `"events"` {
		t.Errorf("redshift quote = %q", got)
	}
}

func TestRenderValue(t *testing.T) {
	if got := renderValue(nil); got != "" {
		t.Errorf("nil = %q", got)
	}
	if got := renderValue([]byte("bytes")); got != "bytes" {
		t.Errorf("bytes = %q", got)
	}
	if got := renderValue(int64(42)); got != "42" {
		t.Errorf("int = %q", got)
	}
}
