package connector

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"

	"github.com/piisentry/scanner/internal/schema"
)

// Redshift scans one cluster database over the postgres protocol. When
// the source carries no endpoint the cluster is resolved through the
// Redshift API.
type Redshift struct {
	sqlSource
}

// NewRedshift builds the connector, resolving the cluster endpoint when
// needed.
func NewRedshift(ctx context.Context, source schema.SourceInput, account schema.CloudAccount, deps Deps) (*Redshift, error) {
	if source.Host == "" {
		host, port, err := resolveClusterEndpoint(ctx, source, account, deps)
		if err != nil {
			return nil, err
		}
		source.Host = host
		source.Port = port
	}
	return &Redshift{sqlSource{service: schema.ServiceRedshift, source: source, deps: deps}}, nil
}

func resolveClusterEndpoint(ctx context.Context, source schema.SourceInput, account schema.CloudAccount, deps Deps) (string, int, error) {
	region := source.SourceRegion
	if region == "" {
		region = account.Region
	}
	cfg, err := newAWSConfig(ctx, region, account.AccessKey, account.SecretKey, account.Session)
	if err != nil {
		return "", 0, err
	}
	client := redshift.NewFromConfig(cfg)
	out, err := client.DescribeClusters(ctx, &redshift.DescribeClustersInput{
		ClusterIdentifier: aws.String(source.SourceUUID),
	})
	if err != nil {
		return "", 0, fmt.Errorf("describe cluster %s: %w", source.SourceUUID, err)
	}
	for _, cluster := range out.Clusters {
		if cluster.Endpoint != nil {
			return aws.ToString(cluster.Endpoint.Address), int(aws.ToInt32(cluster.Endpoint.Port)), nil
		}
	}
	return "", 0, fmt.Errorf("cluster %s has no endpoint", source.SourceUUID)
}
