// Package scan executes the per-chunk classification pipeline: lease,
// fetch, classify, report, finalize.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/piisentry/scanner/internal/classify"
	"github.com/piisentry/scanner/internal/connector"
	"github.com/piisentry/scanner/internal/controlplane"
	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

var tracer = otel.Tracer("scan")

// Scanner drives chunk scans against one control plane on behalf of one
// agent instance.
type Scanner struct {
	client     *controlplane.Client
	instanceID string
	log        *slog.Logger
}

// New builds a scanner.
func New(client *controlplane.Client, instanceID string, log *slog.Logger) *Scanner {
	return &Scanner{client: client, instanceID: instanceID, log: log}
}

// Job binds one chunk to the connector that can fetch it and the
// pipeline that classifies it. CatalogAt stamps the chunk with the
// classifier-catalog version it was scanned under.
type Job struct {
	Chunk     schema.Chunk
	Conn      connector.Connector
	Pipeline  *classify.Pipeline
	Rescan    bool
	CatalogAt time.Time
}

// Process runs one chunk end to end. Losing the lease to another agent
// is not an error; everything after a won lease reports a terminal
// status even on failure, so the chunk never sticks in-progress.
func (s *Scanner) Process(ctx context.Context, job Job) error {
	ctx, span := tracer.Start(ctx, "scan.chunk", trace.WithAttributes(
		attribute.String("chunk.id", job.Chunk.ID),
		attribute.String("chunk.full_path", job.Chunk.FullPath),
		attribute.String("chunk.offset", job.Chunk.Offset),
		attribute.Bool("chunk.rescan", job.Rescan),
	))
	defer span.End()

	acquired, err := s.lease(ctx, job)
	if err != nil {
		return fmt.Errorf("lease chunk %s: %w", job.Chunk.ID, err)
	}
	if !acquired {
		s.log.Debug("chunk held elsewhere", "chunk_id", job.Chunk.ID)
		return nil
	}

	offset := parseOffset(job.Chunk.Offset)
	content, err := job.Conn.Fetch(ctx, job.Chunk.FullPath, job.Chunk.FetchPath, job.Chunk.Limit, offset)
	if err != nil {
		s.finalize(ctx, job, schema.StatusFailed, "", false)
		return fmt.Errorf("fetch chunk %s: %w", job.Chunk.ID, err)
	}

	bodyHash := classify.HashChunkBody(content.Body(offset, schema.OverlapBytes))
	if content.Empty() {
		s.finalize(ctx, job, schema.StatusScanned, bodyHash, false)
		return nil
	}

	isPHI := classify.IsPHI(content.Flatten())
	findings := s.classifyContent(job, content)

	if err := s.postFindings(ctx, findings); err != nil {
		s.finalize(ctx, job, schema.StatusFailed, "", isPHI)
		return fmt.Errorf("post findings for chunk %s: %w", job.Chunk.ID, err)
	}

	span.SetAttributes(attribute.Int("chunk.findings", len(findings)))
	s.finalize(ctx, job, schema.StatusScanned, bodyHash, isPHI)
	return nil
}

// lease attempts the conditional status transition that makes this agent
// the chunk's owner for the cycle.
func (s *Scanner) lease(ctx context.Context, job Job) (bool, error) {
	from, to := schema.StatusWaitForScan, schema.StatusInProgress
	if job.Rescan {
		from, to = schema.StatusScanned, schema.StatusRescanInProgress
	}
	return s.client.LeaseChunk(ctx, job.Chunk.ID, from, to, s.instanceID)
}

// classifyContent runs the pipeline over the fetched content. Tabular
// content is scanned column by column, so each finding carries its
// column name; blob content is scanned as one segment, overlap included.
func (s *Scanner) classifyContent(job Job, content *filedata.Content) []schema.Finding {
	var findings []schema.Finding
	if content.Tabular() {
		for _, col := range content.Columns {
			text := filedata.JoinedColumn(col)
			for _, m := range job.Pipeline.Scan(text) {
				findings = append(findings, s.finding(job, m, text, col.Name))
			}
		}
		return findings
	}
	for _, m := range job.Pipeline.Scan(content.Text) {
		findings = append(findings, s.finding(job, m, content.Text, ""))
	}
	return findings
}

func (s *Scanner) finding(job Job, m classify.Match, text, column string) schema.Finding {
	value := text[m.Start:m.End]
	return schema.Finding{
		MetadataID:     job.Chunk.MetadataID,
		ChunkID:        job.Chunk.ID,
		ClassifierName: m.Name,
		Region:         classify.Region(m.Name),
		Score:          m.Score,
		MaskedValue:    classify.Mask(m.Name, value),
		ContentHash:    classify.HashFinding(value),
		ColumnName:     column,
	}
}

// postFindings splits the report at the batch cap.
func (s *Scanner) postFindings(ctx context.Context, findings []schema.Finding) error {
	for len(findings) > 0 {
		batch := findings
		if len(batch) > schema.FindingsBatchSize {
			batch = findings[:schema.FindingsBatchSize]
		}
		if err := s.client.PostFindings(ctx, batch); err != nil {
			return err
		}
		findings = findings[len(batch):]
	}
	return nil
}

// finalize publishes the chunk's terminal status for this cycle. A
// failure here is logged, not returned; the lease expires server-side.
func (s *Scanner) finalize(ctx context.Context, job Job, status schema.Status, bodyHash string, isPHI bool) {
	now := time.Now().UTC()
	update := schema.Chunk{
		ID:         job.Chunk.ID,
		MetadataID: job.Chunk.MetadataID,
		Offset:     job.Chunk.Offset,
		Limit:      job.Chunk.Limit,
		Status:     status,
		InstanceID: &s.instanceID,
		IsPHI:      isPHI,
	}
	if status == schema.StatusScanned {
		update.ScannedAt = &now
		update.LatestDataType = &job.CatalogAt
		if bodyHash != "" {
			update.Hash = &bodyHash
		}
	}
	if err := s.client.UpdateChunk(ctx, update); err != nil {
		s.log.Error("chunk finalize failed",
			"chunk_id", job.Chunk.ID, "status", status, "error", err)
	}
}

func parseOffset(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
