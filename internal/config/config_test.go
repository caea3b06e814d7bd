package config

import (
	"strings"
	"testing"
)

func TestParseSharedSecret(t *testing.T) {
	tenant, stack, secret, err := ParseSharedSecret("acme::prod-eu::s3cr3t")
	if err != nil {
		t.Fatal(err)
	}
	if tenant != "acme" || stack != "prod-eu" || secret != "s3cr3t" {
		t.Errorf("got %q %q %q", tenant, stack, secret)
	}

	for _, bad := range []string{"", "acme", "acme::prod", "::prod::x", "a::::x"} {
		if _, _, _, err := ParseSharedSecret(bad); err == nil {
			t.Errorf("ParseSharedSecret(%q) should fail", bad)
		}
	}
}

func TestLoadDefaultsAndDerived(t *testing.T) {
	t.Setenv("SHARED_SECRET", "acme::prod::topsecret")
	t.Setenv("SECRET_TOKEN", "token-value")
	t.Setenv("CUSTOMER_ACCOUNT_ID", "123456789012-extra-suffix")
	t.Setenv("SERVER_DOMAIN", "example.com")

	s, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if s.MaxScanWorkers != 5 {
		t.Errorf("MaxScanWorkers = %d, want default 5", s.MaxScanWorkers)
	}
	if s.EncryptIterations != 100_000 {
		t.Errorf("EncryptIterations = %d", s.EncryptIterations)
	}
	if s.CustomerAccountID != "123456789012" {
		t.Errorf("CustomerAccountID = %q, want first 12 characters", s.CustomerAccountID)
	}
	if s.Tenant != "acme" || s.Stack != "prod" || s.ClientSecret != "topsecret" {
		t.Errorf("derived secret fields: %q %q %q", s.Tenant, s.Stack, s.ClientSecret)
	}
	if got := s.BaseURL(); got != "https://prod.example.com/v1/PII detector/" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := s.TokenURL(); !strings.Contains(got, "/sso/realms/acme/") {
		t.Errorf("TokenURL = %q", got)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("SHARED_SECRET", "")
	t.Setenv("SECRET_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without SHARED_SECRET must fail")
	}

	t.Setenv("SHARED_SECRET", "a::b::c")
	if _, err := Load(); err == nil {
		t.Fatal("Load without SECRET_TOKEN must fail")
	}
}

func TestTestModeIdentity(t *testing.T) {
	t.Setenv("SHARED_SECRET", "a::b::c")
	t.Setenv("SECRET_TOKEN", "tok")
	t.Setenv("EXECUTION_MODE", ModeTest)

	s, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsTest() {
		t.Fatal("IsTest should be true")
	}
	if got := s.BaseURL(); got != "http://server:8000/v1/PII detector/" {
		t.Errorf("test BaseURL = %q", got)
	}
	if err := s.ResolveScannerID(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s.ScannerID, "test-") || len(s.ScannerID) != len("test-")+17 {
		t.Errorf("ScannerID = %q", s.ScannerID)
	}
}
