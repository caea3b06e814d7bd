package controlplane

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/piisentry/scanner/internal/schema"
)

// ScannerRecord registers or refreshes this agent at the control plane.
type ScannerRecord struct {
	InstanceID string     `json:"instance_id"`
	AccountID  string     `json:"account_id,omitempty"`
	Version    string     `json:"version,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// RegisterScanner creates this agent's scanner record.
func (c *Client) RegisterScanner(ctx context.Context, rec ScannerRecord) error {
	return c.send(ctx, http.MethodPost, "customer_account/scanner", rec, nil)
}

// Heartbeat publishes liveness for the given instance id.
func (c *Client) Heartbeat(ctx context.Context, instanceID string) error {
	now := time.Now().UTC()
	rec := ScannerRecord{InstanceID: instanceID, LastSeen: &now}
	return c.send(ctx, http.MethodPatch, "customer_account/scanner/"+url.PathEscape(instanceID), rec, nil)
}

// UserAccountID resolves an AWS account number to the owning user id.
func (c *Client) UserAccountID(ctx context.Context, awsAccountID string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	err := c.get(ctx, "customer_account/users_account_id",
		url.Values{"account_id": {awsAccountID}}, &out)
	return out.UserID, err
}

// CloudAccounts fetches connector credentials, optionally filtered by
// service.
func (c *Client) CloudAccounts(ctx context.Context, service schema.Service) ([]schema.CloudAccount, error) {
	params := url.Values{}
	if service != "" {
		params.Set("service", string(service))
	}
	var out []schema.CloudAccount
	err := c.get(ctx, "customer_account/cloud-account", params, &out)
	return out, err
}

// ClassificationGroups lists all classification groups for the tenant.
func (c *Client) ClassificationGroups(ctx context.Context) ([]schema.ClassificationGroup, error) {
	var out []schema.ClassificationGroup
	err := c.get(ctx, "customer_account/data_classification_groups", nil, &out)
	return out, err
}

// ClassificationSources lists the sources of one classification.
func (c *Client) ClassificationSources(ctx context.Context, classificationID string) ([]schema.SourceInput, error) {
	var out []schema.SourceInput
	err := c.get(ctx, "customer_account/data-classification-sources",
		url.Values{"data_classification_id": {classificationID}}, &out)
	return out, err
}

// Classifications filters classifications by id or service.
func (c *Client) Classifications(ctx context.Context, ids []string) ([]schema.Classification, error) {
	params := url.Values{}
	if len(ids) > 0 {
		params.Set("ids", strings.Join(ids, ","))
	}
	var out []schema.Classification
	err := c.get(ctx, "data-classification/filter", params, &out)
	return out, err
}

// UpdateLastScanned records the completion time of a classification run.
func (c *Client) UpdateLastScanned(ctx context.Context, classificationID string, at time.Time) error {
	body := map[string]any{
		"data_classification_id": classificationID,
		"last_scanned":           at.UTC().Format(time.RFC3339),
	}
	return c.send(ctx, http.MethodPut, "customer_account/data_classification_last_scanned", body, nil)
}

// Classifiers fetches the enabled classifier catalog.
func (c *Client) Classifiers(ctx context.Context) ([]schema.Classifier, error) {
	var out []schema.Classifier
	err := c.get(ctx, "customer_account/data-classifiers/filter", nil, &out)
	return out, err
}

// MetadataBySource lists the control plane's metadata records for one
// (account, source) pair, chunks included.
func (c *Client) MetadataBySource(ctx context.Context, accountID, source string) ([]schema.Metadata, error) {
	var out []schema.Metadata
	err := c.get(ctx, "customer_account/file-metadata/filter",
		url.Values{"account_id": {accountID}, "source": {source}}, &out)
	return out, err
}

// CreateMetadataBatch inserts discovered objects with their chunk plans.
func (c *Client) CreateMetadataBatch(ctx context.Context, records []schema.Metadata) error {
	if len(records) == 0 {
		return nil
	}
	return c.send(ctx, http.MethodPost, "customer_account/batch-file-metadata", records, nil)
}

// UpdateMetadataBatch rewrites existing metadata records, matched by id.
func (c *Client) UpdateMetadataBatch(ctx context.Context, records []schema.Metadata) error {
	if len(records) == 0 {
		return nil
	}
	return c.send(ctx, http.MethodPut, "customer_account/batch-file-metadata", records, nil)
}

// UnignoreMetadata lifts the ignored state from the given objects so they
// re-enter discovery.
func (c *Client) UnignoreMetadata(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids}
	return c.send(ctx, http.MethodPatch, "customer_account/not-ignored-file-metadata", body, nil)
}

// DeleteMetadataBatch removes objects; the control plane cascades chunks
// and findings.
func (c *Client) DeleteMetadataBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.del(ctx, "customer_account/delete-batch-metadata", nil, map[string]any{"ids": ids})
}

// UpdateChunk rewrites a single chunk record.
func (c *Client) UpdateChunk(ctx context.Context, chunk schema.Chunk) error {
	return c.send(ctx, http.MethodPut, "customer_account/data-chunks", chunk, nil)
}

// leaseResult carries the row count of a conditional status update.
type leaseResult struct {
	Updated int `json:"updated"`
}

// LeaseChunk attempts the conditional status transition from -> to on one
// chunk. It returns false when another agent holds the chunk (zero rows
// matched the filter).
func (c *Client) LeaseChunk(ctx context.Context, chunkID string, from, to schema.Status, instanceID string) (bool, error) {
	body := map[string]any{
		"id":             chunkID,
		"current_status": from,
		"status":         to,
		"instance_id":    instanceID,
	}
	var res leaseResult
	if err := c.send(ctx, http.MethodPatch, "customer_account/data-chunks", body, &res); err != nil {
		return false, err
	}
	return res.Updated > 0, nil
}

// CreateChunksBatch inserts chunks.
func (c *Client) CreateChunksBatch(ctx context.Context, chunks []schema.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return c.send(ctx, http.MethodPost, "customer_account/data-chunks-batch", chunks, nil)
}

// ResetChunksBatch regresses chunks to wait-for-scan with their scan
// bookkeeping nulled on the wire.
func (c *Client) ResetChunksBatch(ctx context.Context, resets []schema.ChunkReset) error {
	if len(resets) == 0 {
		return nil
	}
	return c.send(ctx, http.MethodPatch, "customer_account/data-chunks-batch", resets, nil)
}

// UpdateChunksBatch applies partial updates to chunks.
func (c *Client) UpdateChunksBatch(ctx context.Context, chunks []schema.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return c.send(ctx, http.MethodPatch, "customer_account/data-chunks-batch", chunks, nil)
}

// DeleteChunksBatch removes chunks by id.
func (c *Client) DeleteChunksBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.del(ctx, "customer_account/data-chunks-batch", nil, map[string]any{"ids": ids})
}

// WaitForScanChunks lists chunks pending scan for one (account, source).
func (c *Client) WaitForScanChunks(ctx context.Context, accountID, source string) ([]schema.Chunk, error) {
	var out []schema.Chunk
	err := c.get(ctx, "customer_account/data-chunks/filter",
		url.Values{
			"account_id": {accountID},
			"source":     {source},
			"status":     {string(schema.StatusWaitForScan)},
		}, &out)
	return out, err
}

// RescanCandidates lists scanned chunks of one (account, source) whose
// classifier catalog stamp predates the given time.
func (c *Client) RescanCandidates(ctx context.Context, accountID, source string, catalogChangedAt time.Time) ([]schema.Chunk, error) {
	var out []schema.Chunk
	err := c.get(ctx, "customer_account/rescan/data-chunks/filter",
		url.Values{
			"account_id":       {accountID},
			"source":           {source},
			"status":           {string(schema.StatusScanned)},
			"latest_data_type": {catalogChangedAt.UTC().Format(time.RFC3339)},
		}, &out)
	return out, err
}

// PostFindings reports one findings batch. Callers are responsible for
// batching at schema.FindingsBatchSize.
func (c *Client) PostFindings(ctx context.Context, findings []schema.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return c.send(ctx, http.MethodPost, "customer_account/sensitive-data", findings, nil)
}
