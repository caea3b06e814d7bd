package schema

import (
	"time"
)

// Chunk capacities and fetch expansion. Offsets are bytes for blob
// sources, row indexes for tabular sources and document indexes for
// document stores.
const (
	ChunkBytesCapacity = 1_000_000
	ChunkRowsCapacity  = 100_000
	ChunkDocsCapacity  = 1_000

	// OverlapBytes widens a blob fetch on the low side so entities
	// straddling a chunk boundary are seen by the neighbour.
	OverlapBytes = 255

	// FindingsBatchSize caps one sensitive-data POST.
	FindingsBatchSize = 100_000
)

// Chunk is one bounded window of an object's content. The control plane
// owns the record; agents mutate it only through status transitions.
type Chunk struct {
	ID         string  `json:"id,omitempty"`
	MetadataID string  `json:"metadata_id,omitempty"`
	ObjectName string  `json:"object_name,omitempty"`
	FullPath   string  `json:"full_path,omitempty"`
	FetchPath  string  `json:"fetch_path,omitempty"`
	Offset     string  `json:"offset"`
	Limit      int64   `json:"limit"`
	Hash       *string `json:"hash,omitempty"`
	Status     Status  `json:"status,omitempty"`

	ScannedAt      *time.Time `json:"scanned_at,omitempty"`
	InstanceID     *string    `json:"instance_id,omitempty"`
	LatestDataType *time.Time `json:"latest_data_type,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	IsPHI          bool       `json:"is_phi,omitempty"`
}

// ChunkReset regresses a chunk whose content drifted back to the
// wait-for-scan state. The bookkeeping fields carry no omitempty: they
// serialise as explicit nulls so the control plane drops the stale
// hash, scan time, labels and owner instead of keeping them.
type ChunkReset struct {
	ID     string `json:"id"`
	Offset string `json:"offset"`
	Limit  int64  `json:"limit"`
	Status Status `json:"status"`

	Hash       *string    `json:"hash"`
	ScannedAt  *time.Time `json:"scanned_at"`
	InstanceID *string    `json:"instance_id"`
	Labels     []string   `json:"labels"`
}

// Metadata is a discovered object (file, table, collection) plus its
// chunk plan.
type Metadata struct {
	ID         string  `json:"id,omitempty"`
	Service    Service `json:"service"`
	FullPath   string  `json:"full_path"`
	FetchPath  string  `json:"fetch_path"`
	ObjectName string  `json:"object_name"`
	ETag       string  `json:"etag"`
	Size       int64   `json:"size"`
	ACL        string  `json:"acl,omitempty"`
	Owner      string  `json:"owner,omitempty"`

	Source       string `json:"source"`
	ResourceID   string `json:"resource_id,omitempty"`
	SourceOwner  string `json:"source_owner,omitempty"`
	SourceRegion string `json:"source_region,omitempty"`
	SourceUUID   string `json:"source_UUID,omitempty"`

	CreatedAt    *time.Time `json:"object_creation_date,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`

	Labels []string `json:"labels,omitempty"`
	IsPHI  bool     `json:"is_phi,omitempty"`
	Status Status   `json:"status,omitempty"`

	Chunks []Chunk `json:"data_chunks,omitempty"`
}

// Finding is one masked, hashed classifier match inside a chunk.
type Finding struct {
	MetadataID     string  `json:"metadata_id"`
	ChunkID        string  `json:"data_chunk_id"`
	ClassifierName string  `json:"data_type"`
	Region         string  `json:"region"`
	Score          float64 `json:"score"`
	MaskedValue    string  `json:"masked_value"`
	ContentHash    string  `json:"content_hash"`
	ColumnName     string  `json:"column_name,omitempty"`
}
