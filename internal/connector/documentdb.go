package connector

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

// DocumentDB scans one collection through the mongo wire protocol, TLS
// verified against the AWS CA bundle.
type DocumentDB struct {
	source schema.SourceInput
	deps   Deps
	client *mongo.Client
}

// NewDocumentDB builds the connector; the connection is opened lazily by
// SourceConfiguration.
func NewDocumentDB(source schema.SourceInput, deps Deps) (*DocumentDB, error) {
	return &DocumentDB{source: source, deps: deps}, nil
}

func (c *DocumentDB) Service() schema.Service { return schema.ServiceDocumentDB }

// SourceConfiguration connects and pings the cluster.
func (c *DocumentDB) SourceConfiguration(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	port := c.source.Port
	if port == 0 {
		port = 27017
	}
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/?tls=true&tlsCAFile=%s&retryWrites=false",
		c.source.User, c.source.Password, c.source.Host, port, caBundlePath)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.source.Host, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping %s: %w", c.source.Host, err)
	}
	c.client = client
	return nil
}

// Discover sizes the collection and plans document chunks.
func (c *DocumentDB) Discover(ctx context.Context) ([]schema.Metadata, error) {
	if err := c.SourceConfiguration(ctx); err != nil {
		return nil, err
	}
	coll := c.client.Database(c.source.Database).Collection(c.source.Collection)
	docs, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", c.source.Collection, err)
	}
	fullPath := c.source.Key()
	meta := schema.Metadata{
		Service:      schema.ServiceDocumentDB,
		FullPath:     fullPath,
		FetchPath:    c.source.Collection,
		ObjectName:   c.source.Collection,
		ETag:         tableETag(fullPath, docs),
		Size:         docs,
		Source:       fullPath,
		ResourceID:   c.source.Collection,
		SourceOwner:  c.source.SourceOwner,
		SourceRegion: c.source.SourceRegion,
		SourceUUID:   c.source.SourceUUID,
		Status:       schema.StatusWaitForScan,
		Chunks: planChunks(c.source.Collection, fullPath, c.source.Collection,
			docs, schema.ChunkDocsCapacity, c.deps.Settings.ScannerID),
	}
	if len(meta.Chunks) == 0 {
		meta.Status = schema.StatusScanned
	}
	return []schema.Metadata{meta}, nil
}

// Fetch reads limit documents starting at the given document offset.
func (c *DocumentDB) Fetch(ctx context.Context, fullPath, chunkPath string, limit, offset int64) (*filedata.Content, error) {
	if err := c.SourceConfiguration(ctx); err != nil {
		return nil, err
	}
	coll := c.client.Database(c.source.Database).Collection(chunkPath)
	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSkip(offset).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", chunkPath, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docsToColumns(docs), nil
}

// ExcludeRedundant is a no-op for DocumentDB.
func (c *DocumentDB) ExcludeRedundant(objects []schema.Metadata) []schema.Metadata {
	return objects
}

func docsToColumns(docs []bson.M) *filedata.Content {
	nameSet := map[string]struct{}{}
	for _, doc := range docs {
		for k := range doc {
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
	for _, doc := range docs {
		for i, n := range names {
			cols[i].Values = append(cols[i].Values, renderValue(doc[n]))
		}
	}
	return &filedata.Content{Columns: cols}
}
