package connector

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/piisentry/scanner/internal/archive"
	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

const (
	// maxListedKeys caps discovery on very large buckets.
	maxListedKeys = 2_000_000

	// headConcurrency bounds the per-key metadata fan-out.
	headConcurrency = 100
)

// redundantKeys drops infrastructure noise before any chunk is planned.
var redundantKeys = regexp.MustCompile(`vpcflowlogs|CloudTrail|-log`)

// S3 scans one bucket.
type S3 struct {
	source  schema.SourceInput
	account schema.CloudAccount
	deps    Deps
	client  *s3.Client
}

// NewS3 builds the connector with the account's static credentials.
func NewS3(ctx context.Context, source schema.SourceInput, account schema.CloudAccount, deps Deps) (*S3, error) {
	c := &S3{source: source, account: account, deps: deps}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *S3) connect(ctx context.Context) error {
	region := c.source.SourceRegion
	if region == "" {
		region = c.account.Region
	}
	if region == "" {
		region = c.deps.Settings.AWSDefaultRegion
	}
	cfg, err := newAWSConfig(ctx, region, c.account.AccessKey, c.account.SecretKey, c.account.Session)
	if err != nil {
		return err
	}
	c.client = s3.NewFromConfig(cfg)
	return nil
}

func (c *S3) Service() schema.Service { return schema.ServiceS3 }

// SourceConfiguration verifies the bucket is reachable.
func (c *S3) SourceConfiguration(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.source.Bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", c.source.Bucket, err)
	}
	return nil
}

// Discover lists the bucket and builds a metadata record per object.
func (c *S3) Discover(ctx context.Context) ([]schema.Metadata, error) {
	keys, err := c.listKeys(ctx)
	if err != nil {
		if isExpiredToken(err) {
			if err := c.connect(ctx); err != nil {
				return nil, err
			}
			keys, err = c.listKeys(ctx)
		}
		if err != nil {
			return nil, err
		}
	}

	results := make([]*schema.Metadata, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	for i, obj := range keys {
		g.Go(func() error {
			meta, err := c.describe(gctx, obj)
			if err != nil {
				// One bad object never aborts discovery.
				c.deps.Log.Warn("describe object failed",
					"bucket", c.source.Bucket, "key", aws.ToString(obj.Key), "error", err)
				return nil
			}
			results[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]schema.Metadata, 0, len(results))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (c *S3) listKeys(ctx context.Context) ([]s3types.Object, error) {
	var keys []s3types.Object
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.source.Bucket),
	})
	for paginator.HasMorePages() && len(keys) < maxListedKeys {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", c.source.Bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Zero-byte keys with a trailing slash are directory markers.
			if strings.HasSuffix(key, "/") && aws.ToInt64(obj.Size) == 0 {
				continue
			}
			keys = append(keys, obj)
			if len(keys) >= maxListedKeys {
				break
			}
		}
	}
	return keys, nil
}

// describe turns one listed object into a metadata record with its chunk
// plan.
func (c *S3) describe(ctx context.Context, obj s3types.Object) (*schema.Metadata, error) {
	key := aws.ToString(obj.Key)
	size := aws.ToInt64(obj.Size)
	meta := &schema.Metadata{
		Service:      schema.ServiceS3,
		FullPath:     c.fullPath(key),
		FetchPath:    key,
		ObjectName:   filepath.Base(key),
		ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
		Size:         size,
		ACL:          c.objectACL(ctx, key),
		Source:       c.source.Bucket,
		ResourceID:   key,
		Owner:        c.source.SourceOwner,
		SourceOwner:  c.source.SourceOwner,
		SourceRegion: c.source.SourceRegion,
		SourceUUID:   c.source.SourceUUID,
		LastModified: obj.LastModified,
		Status:       schema.StatusWaitForScan,
	}

	switch {
	case size == 0 || filedata.Unsupported(key):
		meta.Status = schema.StatusScanned

	case archive.IsArchive(key):
		if err := c.describeArchive(ctx, meta, key); err != nil {
			return nil, err
		}

	case filedata.IsContainer(key):
		data, err := c.download(ctx, key)
		if err != nil {
			return nil, err
		}
		text, err := filedata.ExtractText(key, data)
		if err != nil {
			meta.Status = schema.StatusSkipped
			break
		}
		// Container objects are sized by their extracted text.
		meta.Size = int64(len(text))
		meta.Chunks = planChunks(meta.ObjectName, meta.FullPath, meta.FetchPath,
			meta.Size, schema.ChunkBytesCapacity, c.deps.Settings.ScannerID)
		if len(meta.Chunks) == 0 {
			meta.Status = schema.StatusScanned
		}

	default:
		meta.Chunks = planChunks(meta.ObjectName, meta.FullPath, meta.FetchPath,
			size, schema.ChunkBytesCapacity, c.deps.Settings.ScannerID)
	}
	return meta, nil
}

// describeArchive downloads the archive, pre-checks its recursive
// uncompressed size against the disk budget and, when it fits, expands
// it and plans chunks for every extracted member.
func (c *S3) describeArchive(ctx context.Context, meta *schema.Metadata, key string) error {
	data, err := c.download(ctx, key)
	if err != nil {
		return err
	}
	total, err := archive.UncompressedSize(data, key)
	if err != nil {
		meta.Status = schema.StatusSkipped
		return nil
	}
	if !c.deps.Cache.FitsBudget(total) {
		meta.Status = schema.StatusSkipped
		return nil
	}
	if !c.deps.Cache.Expanded(meta.FullPath) {
		if err := c.deps.Cache.Expand(meta.FullPath, data); err != nil {
			meta.Status = schema.StatusSkipped
			return nil
		}
	}
	meta.Size = total
	meta.Chunks = c.archiveChunks(meta)
	if len(meta.Chunks) == 0 {
		meta.Status = schema.StatusScanned
	}
	return nil
}

// archiveChunks plans blob chunks per extracted member; the chunk fetch
// path is the on-disk location.
func (c *S3) archiveChunks(meta *schema.Metadata) []schema.Chunk {
	root := c.deps.Cache.Dir(meta.FullPath)
	var chunks []schema.Chunk
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if filedata.Unsupported(rel) || info.Size() == 0 {
			return nil
		}
		size := info.Size()
		if filedata.IsContainer(rel) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			text, err := filedata.ExtractText(rel, data)
			if err != nil {
				return nil
			}
			size = int64(len(text))
		}
		chunks = append(chunks, planChunks(rel, meta.FullPath, path,
			size, schema.ChunkBytesCapacity, c.deps.Settings.ScannerID)...)
		return nil
	})
	return chunks
}

// Fetch reads one chunk. Extracted archive members read from local disk,
// re-expanding the parent archive when another agent did the discovery.
func (c *S3) Fetch(ctx context.Context, fullPath, chunkPath string, limit, offset int64) (*filedata.Content, error) {
	if strings.Contains(chunkPath, archive.ExtractedSuffix) {
		return c.fetchExtracted(ctx, fullPath, chunkPath, limit, offset)
	}

	key := c.keyFromFullPath(fullPath)
	if filedata.IsContainer(key) {
		data, err := c.download(ctx, key)
		if err != nil {
			return nil, err
		}
		text, err := filedata.ExtractText(key, data)
		if err != nil {
			return nil, err
		}
		return &filedata.Content{Text: sliceText(text, offset, limit)}, nil
	}

	start, length := overlapRange(offset, limit)
	rng := fmt.Sprintf("bytes=%d-%d", start, start+length-1)
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.source.Bucket),
		Key:    aws.String(key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", key, rng, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return &filedata.Content{Text: string(body)}, nil
}

func (c *S3) fetchExtracted(ctx context.Context, fullPath, chunkPath string, limit, offset int64) (*filedata.Content, error) {
	if _, err := os.Stat(chunkPath); err != nil {
		// Another agent expanded this archive; rebuild the local cache.
		key := c.keyFromFullPath(fullPath)
		data, err := c.download(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := c.deps.Cache.Expand(fullPath, data); err != nil {
			return nil, fmt.Errorf("re-expand %s: %w", fullPath, err)
		}
	}
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if filedata.IsContainer(chunkPath) {
		text, err = filedata.ExtractText(chunkPath, data)
		if err != nil {
			return nil, err
		}
	}
	return &filedata.Content{Text: sliceText(text, offset, limit)}, nil
}

// ExcludeRedundant drops flow logs, CloudTrail trails and log-named keys.
func (c *S3) ExcludeRedundant(objects []schema.Metadata) []schema.Metadata {
	out := objects[:0]
	for _, m := range objects {
		if redundantKeys.MatchString(m.FetchPath) {
			continue
		}
		if strings.Contains(strings.ToLower(m.ObjectName), "log") {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *S3) fullPath(key string) string {
	return c.source.Bucket + "/" + key
}

func (c *S3) keyFromFullPath(fullPath string) string {
	return strings.TrimPrefix(fullPath, c.source.Bucket+"/")
}

func (c *S3) objectACL(ctx context.Context, key string) string {
	out, err := c.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(c.source.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "private"
	}
	for _, grant := range out.Grants {
		if grant.Grantee != nil && grant.Grantee.URI != nil &&
			strings.Contains(*grant.Grantee.URI, "AllUsers") {
			return "public"
		}
	}
	return "private"
}

func (c *S3) download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.source.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
