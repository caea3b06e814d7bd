package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

const identityAttempts = 10

// ResolveScannerID determines this agent's instance identifier. In test
// mode a synthetic id is generated; otherwise the EC2 instance-identity
// document is fetched with linear back-off.
func (s *Settings) ResolveScannerID(ctx context.Context) error {
	if s.ScannerID != "" {
		return nil
	}
	if s.IsTest() {
		s.ScannerID = "test-" + randomToken(17)
		return nil
	}
	id, err := instanceIDFromIMDS(ctx)
	if err != nil {
		return err
	}
	s.ScannerID = id
	return nil
}

func instanceIDFromIMDS(ctx context.Context) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config for imds: %w", err)
	}
	client := imds.NewFromConfig(cfg)

	var lastErr error
	for attempt := 1; attempt <= identityAttempts; attempt++ {
		out, err := client.GetDynamicData(ctx, &imds.GetDynamicDataInput{
			Path: "instance-identity/document",
		})
		if err == nil {
			var doc struct {
				InstanceID string `json:"instanceId"`
			}
			body, readErr := io.ReadAll(out.Content)
			out.Content.Close()
			if readErr == nil && json.Unmarshal(body, &doc) == nil && doc.InstanceID != "" {
				return doc.InstanceID, nil
			}
			err = fmt.Errorf("malformed instance-identity document")
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return "", fmt.Errorf("instance identity after %d attempts: %w", identityAttempts, lastErr)
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[rand.Intn(len(tokenAlphabet))]
	}
	return string(b)
}

// SampleDiskSpace records the free bytes on / at startup; archive
// expansion budgets are checked against this value.
func (s *Settings) SampleDiskSpace() error {
	var st syscall.Statfs_t
	if err := syscall.Statfs("/", &st); err != nil {
		return fmt.Errorf("statfs /: %w", err)
	}
	s.InitialDiskSpace = st.Bavail * uint64(st.Bsize)
	return nil
}
