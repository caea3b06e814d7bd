// Package controlplane implements the typed HTTP client for the central
// service that owns all persistent scanner state.
package controlplane

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/piisentry/scanner/internal/config"
)

const transientBackoff = time.Second

// Client talks to the control plane. All mutating requests carry gzipped
// JSON bodies; transient upstream failures (424, 5xx) are retried until
// the context is cancelled.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *tokenSource
	log     *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client from the process settings.
func New(settings *config.Settings, log *slog.Logger) *Client {
	hc := &http.Client{Timeout: 70 * time.Second}
	return &Client{
		baseURL: settings.BaseURL(),
		http:    hc,
		tokens:  newTokenSource(settings.TokenURL(), settings.Tenant, settings.ClientSecret, hc, log),
		log:     log,
		sleep:   sleepCtx,
	}
}

// NewWithBase builds a Client against an explicit base URL, used by tests
// and local deployments.
func NewWithBase(baseURL, tokenURL, clientID, clientSecret string, log *slog.Logger) *Client {
	hc := &http.Client{Timeout: 70 * time.Second}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		tokens:  newTokenSource(tokenURL, clientID, clientSecret, hc, log),
		log:     log,
		sleep:   sleepCtx,
	}
}

// Close releases the background token refresher.
func (c *Client) Close() {
	c.tokens.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// get issues a GET with URL-encoded params (nil values dropped) and
// decodes the response into out. A 404/422 leaves out untouched and
// returns nil.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.call(ctx, http.MethodGet, path, params, nil, out)
}

// del issues a DELETE with URL-encoded params and an optional body.
func (c *Client) del(ctx context.Context, path string, params url.Values, body any) error {
	return c.call(ctx, http.MethodDelete, path, params, body, nil)
}

// send issues a POST/PUT/PATCH with a gzipped JSON body.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	return c.call(ctx, method, path, nil, body, out)
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	refreshed := false
	for {
		status, respBody, err := c.once(ctx, method, path, params, payload)
		if err != nil {
			// Network-level failure: transient by contract.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("control plane unreachable", "path", path, "error", err)
			if err := c.sleep(ctx, transientBackoff); err != nil {
				return err
			}
			continue
		}

		if status >= 200 && status < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("decode %s %s: %w", method, path, err)
				}
			}
			return nil
		}

		switch classify(status) {
		case KindTransient:
			c.log.Warn("control plane transient failure", "path", path, "status", status)
			if err := c.sleep(ctx, transientBackoff); err != nil {
				return err
			}
			continue
		case KindAuth:
			if refreshed {
				return &Error{Kind: KindAuth, StatusCode: status, Op: path,
					Detail: "unauthorized after token refresh"}
			}
			refreshed = true
			if _, err := c.tokens.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh token: %w", err)
			}
			continue
		case KindNotFound:
			return nil
		default:
			return &Error{Kind: KindPermanent, StatusCode: status, Op: path,
				Detail: truncate(string(respBody), 512)}
		}
	}
}

func (c *Client) once(ctx context.Context, method, path string, params url.Values, payload []byte) (int, []byte, error) {
	u := c.baseURL + path
	if params != nil {
		u += "?" + encodeParams(params)
	}

	var reqBody io.Reader
	if payload != nil {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return 0, nil, err
		}
		if err := zw.Close(); err != nil {
			return 0, nil, err
		}
		reqBody = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, nil, err
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept-Encoding", "gzip")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("gunzip response: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	respBody, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// encodeParams URL-encodes params, dropping empty values.
func encodeParams(params url.Values) string {
	out := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if v == "" {
				continue
			}
			out.Add(k, v)
		}
	}
	return out.Encode()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
