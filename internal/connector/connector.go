// Package connector implements per-service discovery and chunk-bounded
// fetch for the supported data sources.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/piisentry/scanner/internal/archive"
	"github.com/piisentry/scanner/internal/config"
	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

// ErrNotEnabled marks services that are modelled but have no connector in
// this build.
var ErrNotEnabled = errors.New("connector not enabled in this build")

// Connector is the capability set every service implementation exposes.
type Connector interface {
	Service() schema.Service

	// SourceConfiguration validates credentials and reachability before
	// discovery.
	SourceConfiguration(ctx context.Context) error

	// Discover enumerates the source's objects with their chunk plans.
	Discover(ctx context.Context) ([]schema.Metadata, error)

	// Fetch reads one chunk's content. fullPath identifies the object,
	// chunkPath the chunk-level location (an extracted archive member
	// reads from local disk). For blob sources with offset > 0 the read
	// is widened by schema.OverlapBytes on the low side.
	Fetch(ctx context.Context, fullPath, chunkPath string, limit, offset int64) (*filedata.Content, error)

	// ExcludeRedundant strips objects the service knows to be noise.
	ExcludeRedundant(objects []schema.Metadata) []schema.Metadata
}

// Deps carries what every connector needs.
type Deps struct {
	Settings *config.Settings
	Cache    *archive.Cache
	Log      *slog.Logger
}

// New selects the implementation for a source.
func New(ctx context.Context, source schema.SourceInput, account schema.CloudAccount, deps Deps) (Connector, error) {
	switch source.Service {
	case schema.ServiceS3:
		return NewS3(ctx, source, account, deps)
	case schema.ServiceRDS:
		if source.Host == "" && source.SourceUUID != "" {
			return NewRDSFromInstance(ctx, source, account, deps)
		}
		return NewRDS(source, deps)
	case schema.ServiceRedshift:
		return NewRedshift(ctx, source, account, deps)
	case schema.ServiceDynamoDB:
		return NewDynamoDB(ctx, source, account, deps)
	case schema.ServiceDocumentDB:
		return NewDocumentDB(source, deps)
	case schema.ServiceSnowflake, schema.ServiceGitHub, schema.ServiceGitLab, schema.ServiceBitbucket:
		return nil, fmt.Errorf("%s: %w", source.Service, ErrNotEnabled)
	default:
		return nil, fmt.Errorf("unknown service %q", source.Service)
	}
}

// planChunks tiles [0, size) with capacity-sized windows.
func planChunks(objectName, fullPath, fetchPath string, size, capacity int64, instanceID string) []schema.Chunk {
	if size <= 0 || capacity <= 0 {
		return nil
	}
	n := (size + capacity - 1) / capacity
	chunks := make([]schema.Chunk, 0, n)
	for i := int64(0); i < n; i++ {
		chunks = append(chunks, schema.Chunk{
			ObjectName: objectName,
			FullPath:   fullPath,
			FetchPath:  fetchPath,
			Offset:     strconv.FormatInt(i*capacity, 10),
			Limit:      capacity,
			Status:     schema.StatusWaitForScan,
			InstanceID: strPtr(instanceID),
		})
	}
	return chunks
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// overlapRange widens a blob read on the low side.
func overlapRange(offset, limit int64) (start, length int64) {
	start = offset
	length = limit
	if offset > 0 {
		pad := int64(schema.OverlapBytes)
		if pad > offset {
			pad = offset
		}
		start = offset - pad
		length = limit + pad
	}
	return start, length
}

// sliceText applies chunk bounds (with overlap) to an extracted text.
func sliceText(text string, offset, limit int64) string {
	start, length := overlapRange(offset, limit)
	if start >= int64(len(text)) {
		return ""
	}
	end := start + length
	if end > int64(len(text)) {
		end = int64(len(text))
	}
	return text[start:end]
}
