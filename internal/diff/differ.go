// Package diff reconciles a source's discovered objects against the
// control plane's records and produces the set of chunks awaiting scan.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/piisentry/scanner/internal/classify"
	"github.com/piisentry/scanner/internal/connector"
	"github.com/piisentry/scanner/internal/controlplane"
	"github.com/piisentry/scanner/internal/schema"
)

// Differ runs one reconciliation pass for a (classification, source)
// pair. The control plane is the source of truth for record identity;
// the connector is the source of truth for what exists right now.
type Differ struct {
	client    *controlplane.Client
	conn      connector.Connector
	filter    *classify.FilenameFilter
	accountID string
	log       *slog.Logger
}

// New wires a differ for one source.
func New(client *controlplane.Client, conn connector.Connector, filter *classify.FilenameFilter, accountID string, log *slog.Logger) *Differ {
	return &Differ{client: client, conn: conn, filter: filter, accountID: accountID, log: log}
}

// Reconcile discovers the source, converges the control plane's records
// onto it, and returns the chunks left in the wait-for-scan state.
//
// The pass is ordered so that each step sees the previous step's world:
// vanished objects go first, then vanished chunks, then size and content
// drift, then the filename ignore and inclusion gates, and finally the
// already-scanned prune. New objects are created last, after every gate
// has had its say.
func (d *Differ) Reconcile(ctx context.Context, cls schema.Classification, source schema.SourceInput) ([]schema.Chunk, error) {
	discovered, err := d.conn.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", source.Key(), err)
	}
	discovered = d.conn.ExcludeRedundant(discovered)
	discovered = restrictToObjects(discovered, cls.DataObjects)

	existing, err := d.client.MetadataBySource(ctx, d.accountID, source.Key())
	if err != nil {
		return nil, fmt.Errorf("list metadata %s: %w", source.Key(), err)
	}

	byPath := make(map[string]*schema.Metadata, len(existing))
	for i := range existing {
		byPath[existing[i].FullPath] = &existing[i]
	}
	seen := make(map[string]struct{}, len(discovered))
	for i := range discovered {
		seen[discovered[i].FullPath] = struct{}{}
	}

	if err := d.sweepObjects(ctx, existing, seen); err != nil {
		return nil, err
	}
	if err := d.sweepChunks(ctx, discovered, byPath); err != nil {
		return nil, err
	}
	if err := d.reconcileSizes(ctx, discovered, byPath); err != nil {
		return nil, err
	}
	if err := d.reconcileContent(ctx, discovered, byPath); err != nil {
		return nil, err
	}
	discovered, err = d.applyIgnores(ctx, discovered, byPath)
	if err != nil {
		return nil, err
	}
	discovered = d.applyInclusions(discovered)
	discovered = pruneScanned(discovered, byPath)

	if err := d.createNew(ctx, discovered, byPath); err != nil {
		return nil, err
	}

	return d.client.WaitForScanChunks(ctx, d.accountID, source.Key())
}

// restrictToObjects applies a classification's data_objects selection.
// Names match either the object name or the full path.
func restrictToObjects(objects []schema.Metadata, names []string) []schema.Metadata {
	if len(names) == 0 {
		return objects
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	kept := objects[:0]
	for _, obj := range objects {
		if _, ok := want[obj.ObjectName]; ok {
			kept = append(kept, obj)
			continue
		}
		if _, ok := want[obj.FullPath]; ok {
			kept = append(kept, obj)
		}
	}
	return kept
}

// sweepObjects deletes records whose object no longer exists at the
// source. The control plane cascades chunks and findings.
func (d *Differ) sweepObjects(ctx context.Context, existing []schema.Metadata, seen map[string]struct{}) error {
	var dead []string
	for i := range existing {
		if _, ok := seen[existing[i].FullPath]; !ok {
			dead = append(dead, existing[i].ID)
		}
	}
	if len(dead) == 0 {
		return nil
	}
	d.log.Info("sweeping vanished objects", "count", len(dead))
	return d.client.DeleteMetadataBatch(ctx, dead)
}

// sweepChunks deletes chunks whose (full_path, offset) fell outside the
// freshly planned tiling, typically after an object shrank.
func (d *Differ) sweepChunks(ctx context.Context, discovered []schema.Metadata, byPath map[string]*schema.Metadata) error {
	var dead []string
	for i := range discovered {
		ex, ok := byPath[discovered[i].FullPath]
		if !ok {
			continue
		}
		planned := make(map[string]struct{}, len(discovered[i].Chunks))
		for _, ch := range discovered[i].Chunks {
			planned[chunkKey(ch)] = struct{}{}
		}
		for _, ch := range ex.Chunks {
			if _, ok := planned[chunkKey(ch)]; !ok {
				dead = append(dead, ch.ID)
			}
		}
	}
	if len(dead) == 0 {
		return nil
	}
	d.log.Info("sweeping out-of-plan chunks", "count", len(dead))
	return d.client.DeleteChunksBatch(ctx, dead)
}

// chunkKey identifies a chunk inside its object. Archive members share
// the archive's full path, so the member name participates.
func chunkKey(ch schema.Chunk) string {
	return ch.ObjectName + "\x00" + ch.Offset
}

// reconcileSizes pushes changed object sizes (and the version token that
// came with them) back to the control plane.
func (d *Differ) reconcileSizes(ctx context.Context, discovered []schema.Metadata, byPath map[string]*schema.Metadata) error {
	var updates []schema.Metadata
	for i := range discovered {
		ex, ok := byPath[discovered[i].FullPath]
		if !ok || ex.Size == discovered[i].Size {
			continue
		}
		up := *ex
		up.Size = discovered[i].Size
		up.ETag = discovered[i].ETag
		up.LastModified = discovered[i].LastModified
		up.Chunks = nil
		if len(discovered[i].Chunks) == 0 {
			// Nothing left to scan; the empty plan aggregates terminal.
			up.Status = schema.Aggregate(nil)
		}
		updates = append(updates, up)
		// The cached record keeps its old etag so the content pass and
		// the scanned prune still see the drift.
		ex.Size = up.Size
	}
	return d.client.UpdateMetadataBatch(ctx, updates)
}

// reconcileContent re-hashes the chunks of objects whose version token
// changed. Chunks whose body drifted regress to wait-for-scan; chunks the
// new tiling added are created. Resets land before creates so a failure
// between the two never leaves stale scan results standing.
func (d *Differ) reconcileContent(ctx context.Context, discovered []schema.Metadata, byPath map[string]*schema.Metadata) error {
	var resets []schema.ChunkReset
	var creates []schema.Chunk
	for i := range discovered {
		obj := &discovered[i]
		ex, ok := byPath[obj.FullPath]
		if !ok {
			continue
		}
		if ex.ETag == obj.ETag {
			// Same version token, same content.
			continue
		}
		known := make(map[string]*schema.Chunk, len(ex.Chunks))
		for j := range ex.Chunks {
			known[chunkKey(ex.Chunks[j])] = &ex.Chunks[j]
		}
		for _, planned := range obj.Chunks {
			prev, ok := known[chunkKey(planned)]
			if !ok {
				planned.MetadataID = ex.ID
				creates = append(creates, planned)
				continue
			}
			if prev.Hash == nil {
				// Never scanned, nothing to invalidate.
				continue
			}
			offset := parseOffset(planned.Offset)
			content, err := d.conn.Fetch(ctx, planned.FullPath, planned.FetchPath, planned.Limit, offset)
			if err != nil {
				d.log.Warn("content probe failed",
					"full_path", planned.FullPath, "offset", planned.Offset, "error", err)
				continue
			}
			sum := classify.HashChunkBody(content.Body(offset, schema.OverlapBytes))
			if sum == *prev.Hash {
				continue
			}
			// The regression clears the hash, scan time, labels and
			// owner: the nil fields reach the wire as explicit nulls.
			resets = append(resets, schema.ChunkReset{
				ID:     prev.ID,
				Offset: prev.Offset,
				Limit:  prev.Limit,
				Status: schema.StatusWaitForScan,
			})
		}
	}
	if err := d.client.ResetChunksBatch(ctx, resets); err != nil {
		return err
	}
	return d.client.CreateChunksBatch(ctx, creates)
}

// applyIgnores enforces the filename exclusion classifiers: matching
// objects become (or stay) ignored records, and previously ignored
// objects whose name stopped matching are released. The returned slice
// drops every ignored object from the rest of the pass.
func (d *Differ) applyIgnores(ctx context.Context, discovered []schema.Metadata, byPath map[string]*schema.Metadata) ([]schema.Metadata, error) {
	var (
		newlyIgnored []schema.Metadata
		demote       []schema.Metadata
		deadChunks   []string
		release      []string
	)
	kept := discovered[:0]
	for i := range discovered {
		obj := discovered[i]
		if !d.filter.Excluded(obj.ObjectName) {
			if ex, ok := byPath[obj.FullPath]; ok && ex.Status == schema.StatusIgnored {
				release = append(release, ex.ID)
				// Chunks are planned on the next pass, once the record
				// is back in the normal state.
				continue
			}
			kept = append(kept, obj)
			continue
		}
		ex, ok := byPath[obj.FullPath]
		switch {
		case !ok:
			obj.Status = schema.StatusIgnored
			obj.Chunks = nil
			newlyIgnored = append(newlyIgnored, obj)
		case ex.Status != schema.StatusIgnored:
			up := *ex
			up.Status = schema.StatusIgnored
			up.Chunks = nil
			demote = append(demote, up)
			for _, ch := range ex.Chunks {
				deadChunks = append(deadChunks, ch.ID)
			}
		}
	}
	if err := d.client.CreateMetadataBatch(ctx, newlyIgnored); err != nil {
		return nil, err
	}
	if err := d.client.UpdateMetadataBatch(ctx, demote); err != nil {
		return nil, err
	}
	if err := d.client.DeleteChunksBatch(ctx, deadChunks); err != nil {
		return nil, err
	}
	if err := d.client.UnignoreMetadata(ctx, release); err != nil {
		return nil, err
	}
	return kept, nil
}

// applyInclusions gates objects through the filename inclusion
// classifiers when any exist, attaching the labels of every match.
func (d *Differ) applyInclusions(discovered []schema.Metadata) []schema.Metadata {
	if !d.filter.HasInclusions() {
		return discovered
	}
	kept := discovered[:0]
	for _, obj := range discovered {
		ok, labels := d.filter.Included(obj.ObjectName)
		if !ok {
			continue
		}
		obj.Labels = mergeLabels(obj.Labels, labels)
		for i := range obj.Chunks {
			obj.Chunks[i].Labels = mergeLabels(obj.Chunks[i].Labels, labels)
		}
		kept = append(kept, obj)
	}
	return kept
}

func mergeLabels(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, l := range have {
		seen[l] = struct{}{}
	}
	for _, l := range add {
		if _, ok := seen[l]; !ok {
			have = append(have, l)
			seen[l] = struct{}{}
		}
	}
	return have
}

// pruneScanned drops objects the control plane already holds at the same
// version token with every chunk scanned.
func pruneScanned(discovered []schema.Metadata, byPath map[string]*schema.Metadata) []schema.Metadata {
	kept := discovered[:0]
	for _, obj := range discovered {
		ex, ok := byPath[obj.FullPath]
		if ok && ex.ETag == obj.ETag && aggregateStatus(ex) == schema.StatusScanned {
			continue
		}
		kept = append(kept, obj)
	}
	return kept
}

func aggregateStatus(meta *schema.Metadata) schema.Status {
	if len(meta.Chunks) == 0 {
		return meta.Status
	}
	statuses := make([]schema.Status, len(meta.Chunks))
	for i, ch := range meta.Chunks {
		statuses[i] = ch.Status
	}
	return schema.Aggregate(statuses)
}

// createNew inserts discovered objects the control plane has never seen,
// chunk plans included.
func (d *Differ) createNew(ctx context.Context, discovered []schema.Metadata, byPath map[string]*schema.Metadata) error {
	var fresh []schema.Metadata
	for _, obj := range discovered {
		if _, ok := byPath[obj.FullPath]; !ok {
			fresh = append(fresh, obj)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	d.log.Info("registering discovered objects", "count", len(fresh))
	return d.client.CreateMetadataBatch(ctx, fresh)
}

// parseOffset tolerates the empty string the control plane serves for
// never-tiled records.
func parseOffset(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
