package connector

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/piisentry/scanner/internal/filedata"
	"github.com/piisentry/scanner/internal/schema"
)

const (
	caBundlePath = "global-bundle.pem"
	caBundleURL  = "https://truststore.pki.rds.amazonaws.com/global/global-bundle.pem"

	mysqlTLSConfigName = "rds"
)

// RDS scans one relational database, postgres- or mysql-family.
type RDS struct {
	sqlSource
}

// NewRDS builds the connector; the connection is opened lazily by
// SourceConfiguration.
func NewRDS(source schema.SourceInput, deps Deps) (*RDS, error) {
	return &RDS{sqlSource{service: schema.ServiceRDS, source: source, deps: deps}}, nil
}

// NewRDSFromInstance resolves the instance endpoint and engine through
// the RDS API before building the connector, for sources declared by
// instance identifier only.
func NewRDSFromInstance(ctx context.Context, source schema.SourceInput, account schema.CloudAccount, deps Deps) (*RDS, error) {
	region := source.SourceRegion
	if region == "" {
		region = account.Region
	}
	cfg, err := newAWSConfig(ctx, region, account.AccessKey, account.SecretKey, account.Session)
	if err != nil {
		return nil, err
	}
	client := rds.NewFromConfig(cfg)
	out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(source.SourceUUID),
	})
	if err != nil {
		return nil, fmt.Errorf("describe db instance %s: %w", source.SourceUUID, err)
	}
	for _, inst := range out.DBInstances {
		if inst.Endpoint == nil {
			continue
		}
		source.Host = aws.ToString(inst.Endpoint.Address)
		source.Port = int(aws.ToInt32(inst.Endpoint.Port))
		source.Engine = aws.ToString(inst.Engine)
		return NewRDS(source, deps)
	}
	return nil, fmt.Errorf("db instance %s has no endpoint", source.SourceUUID)
}

// sqlSource is the shared table-oriented implementation behind the RDS
// and Redshift connectors.
type sqlSource struct {
	service schema.Service
	source  schema.SourceInput
	deps    Deps
	db      *sqlx.DB
}

func (c *sqlSource) Service() schema.Service { return c.service }

// SourceConfiguration opens and pings the database.
func (c *sqlSource) SourceConfiguration(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	driver, dsn, err := c.dsn()
	if err != nil {
		return err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.source.Host, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", c.source.Host, err)
	}
	c.db = db
	return nil
}

func (c *sqlSource) dsn() (driver, dsn string, err error) {
	user := c.source.User
	if user == "" {
		user = c.deps.Settings.RDSDatabaseUser
	}
	if isPostgresEngine(c.source.Engine) || c.service == schema.ServiceRedshift {
		port := c.source.Port
		if port == 0 {
			port = 5432
		}
		return "postgres", fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=require",
			c.source.Host, port, user, c.source.Password, c.source.Database), nil
	}

	// MySQL-family engines verify the server against the AWS CA bundle.
	if err := registerMySQLTLS(); err != nil {
		return "", "", err
	}
	port := c.source.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = user
	mc.Passwd = c.source.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.source.Host, port)
	mc.DBName = c.source.Database
	mc.TLSConfig = mysqlTLSConfigName
	return "mysql", mc.FormatDSN(), nil
}

func isPostgresEngine(engine string) bool {
	e := strings.ToLower(engine)
	return strings.Contains(e, "postgres") || strings.Contains(e, "aurora-postgresql")
}

// Discover lists the schema's tables with row counts and plans row
// chunks.
func (c *sqlSource) Discover(ctx context.Context) ([]schema.Metadata, error) {
	if err := c.SourceConfiguration(ctx); err != nil {
		return nil, err
	}
	tables, err := c.listTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Metadata, 0, len(tables))
	for _, table := range tables {
		rows, err := c.countRows(ctx, table)
		if err != nil {
			c.deps.Log.Warn("count rows failed", "table", table, "error", err)
			continue
		}
		fullPath := fmt.Sprintf("%s.%s", c.source.Database, table)
		meta := schema.Metadata{
			Service:      c.service,
			FullPath:     fullPath,
			FetchPath:    table,
			ObjectName:   table,
			ETag:         tableETag(table, rows),
			Size:         rows,
			Source:       c.source.Key(),
			ResourceID:   table,
			SourceOwner:  c.source.SourceOwner,
			SourceRegion: c.source.SourceRegion,
			SourceUUID:   c.source.SourceUUID,
			Status:       schema.StatusWaitForScan,
			Chunks: planChunks(table, fullPath, table, rows,
				schema.ChunkRowsCapacity, c.deps.Settings.ScannerID),
		}
		if len(meta.Chunks) == 0 {
			meta.Status = schema.StatusScanned
		}
		out = append(out, meta)
	}
	return out, nil
}

func (c *sqlSource) listTables(ctx context.Context) ([]string, error) {
	dbSchema := c.source.Schema
	if dbSchema == "" {
		dbSchema = "public"
	}
	var tables []string
	err := c.db.SelectContext(ctx, &tables,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, dbSchema)
	if err != nil {
		// MySQL placeholders.
		err = c.db.SelectContext(ctx, &tables,
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = ? AND table_type = 'BASE TABLE'`, c.source.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (c *sqlSource) countRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+c.quoteIdent(table))
	return n, err
}

// Fetch reads one row window as columns.
func (c *sqlSource) Fetch(ctx context.Context, fullPath, chunkPath string, limit, offset int64) (*filedata.Content, error) {
	if err := c.SourceConfiguration(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", c.quoteIdent(chunkPath), limit, offset)
	rows, err := c.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", chunkPath, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols := make([]filedata.Column, len(names))
	for i, n := range names {
		cols[i] = filedata.Column{Name: n}
	}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i := range cols {
			cols[i].Values = append(cols[i].Values, renderValue(vals[i]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &filedata.Content{Columns: cols}, nil
}

// ExcludeRedundant is a no-op for table sources.
func (c *sqlSource) ExcludeRedundant(objects []schema.Metadata) []schema.Metadata {
	return objects
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// quoteIdent wraps an identifier in the dialect's quoting, stripping
// embedded quotes rather than escaping them; table names come from
// information_schema, not users.
func (c *sqlSource) quoteIdent(name string) string {
	if isPostgresEngine(c.source.Engine) || c.service == schema.ServiceRedshift {
		return `"` + strings.ReplaceAll(name, `"`, "") + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

func tableETag(table string, rows int64) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s:%d", table, rows))
	return hex.EncodeToString(sum[:])
}

// registerMySQLTLS loads the AWS CA bundle (downloading it on first use)
// and registers it with the mysql driver.
func registerMySQLTLS() error {
	data, err := os.ReadFile(caBundlePath)
	if err != nil {
		data, err = downloadCABundle()
		if err != nil {
			return err
		}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("ca bundle %s: no certificates", caBundlePath)
	}
	return mysql.RegisterTLSConfig(mysqlTLSConfigName, &tls.Config{RootCAs: pool})
}

func downloadCABundle() ([]byte, error) {
	resp, err := http.Get(caBundleURL)
	if err != nil {
		return nil, fmt.Errorf("download ca bundle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download ca bundle: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(caBundlePath, data, 0o644); err != nil {
		return nil, err
	}
	return data, nil
}
