package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenSource owns the bearer token. The first authenticated call fetches
// a token and starts a background refresher that renews it at 2/3 of its
// lifetime.
type tokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	log          *slog.Logger

	mu      sync.Mutex
	token   string
	ttl     time.Duration
	started bool
	cancel  context.CancelFunc
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func newTokenSource(tokenURL, clientID, clientSecret string, hc *http.Client, log *slog.Logger) *tokenSource {
	return &tokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   hc,
		log:          log,
	}
}

// Token returns the current bearer token, fetching one on first use.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" {
		if err := t.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	if !t.started {
		t.started = true
		bg, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.loop(bg)
	}
	return t.token, nil
}

// Refresh forces a new token, used on a 401.
func (t *tokenSource) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(ctx); err != nil {
		return "", err
	}
	return t.token, nil
}

// Close stops the background refresher.
func (t *tokenSource) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *tokenSource) refreshLocked(ctx context.Context) error {
	tok, ttl, err := t.fetch(ctx)
	if err != nil {
		return err
	}
	t.token = tok
	t.ttl = ttl
	return nil
}

func (t *tokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, &Error{Kind: classify(resp.StatusCode), StatusCode: resp.StatusCode,
			Op: "token", Detail: string(body)}
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("token decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

// loop renews the token at two thirds of its lifetime.
func (t *tokenSource) loop(ctx context.Context) {
	for {
		t.mu.Lock()
		wait := t.ttl * 2 / 3
		t.mu.Unlock()
		if wait <= 0 {
			wait = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		tok, ttl, err := t.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("token refresh failed", "error", err)
			t.mu.Lock()
			t.ttl = 7500 * time.Millisecond // retry in 5s via the 2/3 factor
			t.mu.Unlock()
			continue
		}
		t.mu.Lock()
		t.token = tok
		t.ttl = ttl
		t.mu.Unlock()
	}
}
