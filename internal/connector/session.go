package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"
)

// AWS call budget: generous read timeout for large ranged gets, bounded
// retry count for throttling.
const (
	awsConnectTimeout = 50 * time.Second
	awsReadTimeout    = 70 * time.Second
	awsMaxRetries     = 10
)

// newAWSConfig builds a session from the cloud-account credentials. Empty
// keys fall back to the default provider chain (instance role).
func newAWSConfig(ctx context.Context, region, accessKey, secretKey, sessionToken string) (aws.Config, error) {
	httpClient := &http.Client{
		Timeout: awsReadTimeout,
		Transport: &http.Transport{
			ResponseHeaderTimeout: awsConnectTimeout,
		},
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), awsMaxRetries)
		}),
	}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// isExpiredToken detects the session-expired API error; callers rebuild
// the session once and retry.
func isExpiredToken(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ExpiredToken", "ExpiredTokenException", "RequestExpired":
			return true
		}
	}
	return false
}
