package connector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

// dynamoAPI is the slice of the DynamoDB client the connector issues.
type dynamoAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDB scans one table. Chunking is planned from the table's item
// count; fetch positions a Scan at the chunk's row offset.
type DynamoDB struct {
	source  schema.SourceInput
	account schema.CloudAccount
	deps    Deps
	client  dynamoAPI
}

// NewDynamoDB builds the connector with the account's credentials.
func NewDynamoDB(ctx context.Context, source schema.SourceInput, account schema.CloudAccount, deps Deps) (*DynamoDB, error) {
	region := source.SourceRegion
	if region == "" {
		region = account.Region
	}
	cfg, err := newAWSConfig(ctx, region, account.AccessKey, account.SecretKey, account.Session)
	if err != nil {
		return nil, err
	}
	return &DynamoDB{source: source, account: account, deps: deps,
		client: dynamodb.NewFromConfig(cfg)}, nil
}

func (c *DynamoDB) Service() schema.Service { return schema.ServiceDynamoDB }

// SourceConfiguration verifies the table exists.
func (c *DynamoDB) SourceConfiguration(ctx context.Context) error {
	_, err := c.describeTable(ctx)
	return err
}

func (c *DynamoDB) describeTable(ctx context.Context) (*ddbtypes.TableDescription, error) {
	out, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.source.Table),
	})
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", c.source.Table, err)
	}
	return out.Table, nil
}

// Discover builds one metadata record from the table description. The
// TableId is the version token: it survives only as long as the table.
func (c *DynamoDB) Discover(ctx context.Context) ([]schema.Metadata, error) {
	table, err := c.describeTable(ctx)
	if err != nil {
		return nil, err
	}
	size := aws.ToInt64(table.TableSizeBytes)
	items := aws.ToInt64(table.ItemCount)
	meta := schema.Metadata{
		Service:      schema.ServiceDynamoDB,
		FullPath:     c.source.Table,
		FetchPath:    c.source.Table,
		ObjectName:   c.source.Table,
		ETag:         aws.ToString(table.TableId),
		Size:         size,
		Source:       c.source.Table,
		ResourceID:   c.source.Table,
		Owner:        c.source.SourceOwner,
		SourceOwner:  c.source.SourceOwner,
		SourceRegion: c.source.SourceRegion,
		SourceUUID:   c.source.SourceUUID,
		CreatedAt:    table.CreationDateTime,
		LastModified: table.CreationDateTime,
		Status:       schema.StatusWaitForScan,
	}
	if size > 0 && items > 0 {
		meta.Chunks = planChunks(c.source.Table, meta.FullPath, meta.FetchPath,
			items, schema.ChunkRowsCapacity, c.deps.Settings.ScannerID)
	}
	if len(meta.Chunks) == 0 {
		meta.Status = schema.StatusScanned
	}
	return []schema.Metadata{meta}, nil
}

// Fetch reads limit items starting at the given item offset. Counting
// pre-scans walk to the start key, then scans read the window. Both
// loops page: a Scan stops at 1MB of evaluated data regardless of its
// Limit, so one call may cover far fewer items than requested.
func (c *DynamoDB) Fetch(ctx context.Context, fullPath, chunkPath string, limit, offset int64) (*filedata.Content, error) {
	var startKey map[string]ddbtypes.AttributeValue
	for remaining := offset; remaining > 0; {
		pre, err := c.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(chunkPath),
			Limit:             aws.Int32(int32(remaining)),
			Select:            ddbtypes.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("position scan %s: %w", chunkPath, err)
		}
		remaining -= int64(pre.Count)
		if pre.LastEvaluatedKey == nil {
			// The table ended at or below this chunk's offset.
			return &filedata.Content{}, nil
		}
		startKey = pre.LastEvaluatedKey
	}

	var items []map[string]ddbtypes.AttributeValue
	for int64(len(items)) < limit {
		out, err := c.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(chunkPath),
			Limit:             aws.Int32(int32(limit - int64(len(items)))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", chunkPath, err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return itemsToColumns(items), nil
}

// ExcludeRedundant is a no-op for DynamoDB.
func (c *DynamoDB) ExcludeRedundant(objects []schema.Metadata) []schema.Metadata {
	return objects
}

// itemsToColumns flattens items into the union of their attribute names;
// missing attributes become empty values.
func itemsToColumns(items []map[string]ddbtypes.AttributeValue) *filedata.Content {
	nameSet := map[string]struct{}{}
	for _, item := range items {
		for k := range item {
			nameSet[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for k := range nameSet {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]filedata.Column, len(names))
	for i, n := range names {
		cols[i] = filedata.Column{Name: n}
	}
	for _, item := range items {
		for i, n := range names {
			cols[i].Values = append(cols[i].Values, renderAttribute(item[n]))
		}
	}
	return &filedata.Content{Columns: cols}
}

func renderAttribute(av ddbtypes.AttributeValue) string {
	switch v := av.(type) {
	case nil:
		return ""
	case *ddbtypes.AttributeValueMemberS:
		return v.Value
	case *ddbtypes.AttributeValueMemberN:
		return v.Value
	case *ddbtypes.AttributeValueMemberBOOL:
		return fmt.Sprintf("%t", v.Value)
	case *ddbtypes.AttributeValueMemberB:
		return string(v.Value)
	case *ddbtypes.AttributeValueMemberSS:
		return strings.Join(v.Value, " ")
	case *ddbtypes.AttributeValueMemberNS:
		return strings.Join(v.Value, " ")
	case *ddbtypes.AttributeValueMemberL:
		parts := make([]string, len(v.Value))
		for i, inner := range v.Value {
			parts[i] = renderAttribute(inner)
		}
		return strings.Join(parts, " ")
	case *ddbtypes.AttributeValueMemberM:
		parts := make([]string, 0, len(v.Value))
		for k, inner := range v.Value {
			parts = append(parts, k+" "+renderAttribute(inner))
		}
		sort.Strings(parts)
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
