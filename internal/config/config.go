package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Execution modes.
const (
	ModeTest    = "Test"
	ModeDevelop = "Develop"
)

// Settings is the process-wide configuration, bound from the environment
// once at startup and passed by reference afterwards.
type Settings struct {
	DeploymentType string `mapstructure:"DEPLOYMENT_TYPE"`
	ExecutionMode  string `mapstructure:"EXECUTION_MODE"`

	CustomerAccountID string `mapstructure:"CUSTOMER_ACCOUNT_ID"`
	ServerDomain      string `mapstructure:"SERVER_DOMAIN"`
	SharedSecret      string `mapstructure:"SHARED_SECRET"`
	SecretToken       string `mapstructure:"SECRET_TOKEN"`

	AWSDefaultRegion string `mapstructure:"AWS_DEFAULT_REGION"`
	RDSDatabaseUser  string `mapstructure:"RDS_DATABASE_USER"`

	GitHubToken       string `mapstructure:"GITHUB_TOKEN"`
	GitHubUsername    string `mapstructure:"GITHUB_USERNAME"`
	BitbucketLogin    string `mapstructure:"BITBUCKET_LOGIN"`
	BitbucketPassword string `mapstructure:"BITBUCKET_PASSWORD"`
	GitLabToken       string `mapstructure:"GITLAB_TOKEN"`

	MaxScanWorkers    int    `mapstructure:"MAX_SCAN_WORKERS"`
	EncryptIterations int    `mapstructure:"ENCRYPT_ITERATIONS"`
	DefaultEncoding   string `mapstructure:"DEFAULT_ENCODING"`

	UploadedFilesFolder string `mapstructure:"UPLOADED_FILES_FOLDER"`

	SentryDSN   string `mapstructure:"SENTRY_DSN_DATA_SCANNING"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	OtelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Derived at startup.
	Tenant           string
	Stack            string
	ClientSecret     string
	ScannerID        string
	InitialDiskSpace uint64
}

// Load binds the environment into Settings and validates required keys.
func Load() (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("EXECUTION_MODE", ModeDevelop)
	v.SetDefault("MAX_SCAN_WORKERS", 5)
	v.SetDefault("ENCRYPT_ITERATIONS", 100_000)
	v.SetDefault("DEFAULT_ENCODING", "utf-8")
	v.SetDefault("UPLOADED_FILES_FOLDER", "uploaded_files")

	// AutomaticEnv alone does not populate Unmarshal; register the keys.
	for _, key := range []string{
		"DEPLOYMENT_TYPE", "EXECUTION_MODE", "CUSTOMER_ACCOUNT_ID",
		"SERVER_DOMAIN", "SHARED_SECRET", "SECRET_TOKEN",
		"AWS_DEFAULT_REGION", "RDS_DATABASE_USER",
		"GITHUB_TOKEN", "GITHUB_USERNAME",
		"BITBUCKET_LOGIN", "BITBUCKET_PASSWORD", "GITLAB_TOKEN",
		"MAX_SCAN_WORKERS", "ENCRYPT_ITERATIONS", "DEFAULT_ENCODING",
		"UPLOADED_FILES_FOLDER", "SENTRY_DSN_DATA_SCANNING",
		"CORS_ORIGINS", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		_ = v.BindEnv(key)
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if s.SharedSecret == "" {
		return nil, fmt.Errorf("SHARED_SECRET is required")
	}
	if s.SecretToken == "" {
		return nil, fmt.Errorf("SECRET_TOKEN is required")
	}
	tenant, stack, secret, err := ParseSharedSecret(s.SharedSecret)
	if err != nil {
		return nil, err
	}
	s.Tenant, s.Stack, s.ClientSecret = tenant, stack, secret

	// Only the first 12 characters identify the account.
	if len(s.CustomerAccountID) > 12 {
		s.CustomerAccountID = s.CustomerAccountID[:12]
	}
	if s.MaxScanWorkers <= 0 {
		s.MaxScanWorkers = 5
	}
	return s, nil
}

// ParseSharedSecret splits the tenant::stack::secret triple.
func ParseSharedSecret(raw string) (tenant, stack, secret string, err error) {
	parts := strings.SplitN(raw, "::", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("SHARED_SECRET must be tenant::stack::secret")
	}
	return parts[0], parts[1], parts[2], nil
}

// IsTest reports whether the agent runs in the deterministic test mode.
func (s *Settings) IsTest() bool {
	return s.ExecutionMode == ModeTest
}

// BaseURL is the control-plane API root.
func (s *Settings) BaseURL() string {
	if s.IsTest() {
		return "http://server:8000/v1/PII detector/"
	}
	return fmt.Sprintf("https://%s.%s/v1/PII detector/", s.Stack, s.ServerDomain)
}

// TokenURL is the OpenID client-credentials token endpoint.
func (s *Settings) TokenURL() string {
	return fmt.Sprintf("https://%s.%s/sso/realms/%s/protocol/openid-connect/token",
		s.Stack, s.ServerDomain, s.Tenant)
}
