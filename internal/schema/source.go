package schema

import "fmt"

// Service is the closed set of connector kinds.
type Service string

const (
	ServiceS3         Service = "S3"
	ServiceRDS        Service = "RDS"
	ServiceRedshift   Service = "Redshift"
	ServiceDynamoDB   Service = "DynamoDB"
	ServiceDocumentDB Service = "DocumentDB"
	ServiceSnowflake  Service = "Snowflake"
	ServiceGitHub     Service = "GitHub"
	ServiceGitLab     Service = "GitLab"
	ServiceBitbucket  Service = "Bitbucket"
)

// AWSScoped reports whether the service is discovered through an AWS
// account rather than explicit credentials.
func (s Service) AWSScoped() bool {
	switch s {
	case ServiceS3, ServiceRDS, ServiceRedshift, ServiceDynamoDB, ServiceDocumentDB:
		return true
	}
	return false
}

// SourceInput is the per-service handle a classification points a
// connector at. The canonical string form (Key) is the stable source key
// used in metadata records.
type SourceInput struct {
	Service      Service `json:"service"`
	SourceOwner  string  `json:"source_owner,omitempty"`
	SourceRegion string  `json:"source_region,omitempty"`
	SourceUUID   string  `json:"source_UUID,omitempty"`

	// S3
	Bucket string `json:"bucket,omitempty"`

	// RDS / Redshift
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Engine   string `json:"db_engine,omitempty"`
	Database string `json:"database,omitempty"`
	Schema   string `json:"db_schema,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`

	// DynamoDB
	Table string `json:"table,omitempty"`

	// DocumentDB
	Collection string `json:"collection,omitempty"`

	// Source-code hosts
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

// Key returns the canonical string form of the source.
func (s SourceInput) Key() string {
	switch s.Service {
	case ServiceS3:
		return s.Bucket
	case ServiceRDS, ServiceRedshift:
		return fmt.Sprintf("%s/%s", s.Host, s.Database)
	case ServiceDynamoDB:
		return s.Table
	case ServiceDocumentDB:
		return fmt.Sprintf("%s/%s/%s", s.Host, s.Database, s.Collection)
	case ServiceGitHub, ServiceGitLab, ServiceBitbucket:
		return fmt.Sprintf("%s@%s", s.Repository, s.Branch)
	case ServiceSnowflake:
		return fmt.Sprintf("%s/%s/%s", s.Host, s.Database, s.Schema)
	}
	return ""
}

// CloudAccount is the credential payload the control plane hands out per
// connected account. Secrets arrive encrypted with the shared token.
type CloudAccount struct {
	ID        string  `json:"id"`
	AccountID string  `json:"account_id"`
	Service   Service `json:"service"`
	Region    string  `json:"region,omitempty"`
	AccessKey string  `json:"access_key,omitempty"`
	SecretKey string  `json:"secret_key,omitempty"`
	Session   string  `json:"session_token,omitempty"`
	User      string  `json:"user,omitempty"`
	Password  string  `json:"password,omitempty"`
}
