// Package registry implements the RegistryGateway over the registry's
// HTTP API.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/core/models"
)

const defaultUserAgent = "anvil-publish/1.0"

// Gateway talks to one registry endpoint with one API key. Mutating calls
// (publish, delete, owner changes) are issued exactly once; idempotent
// GETs are retried with bounded exponential backoff on transport errors
// and 5xx responses.
type Gateway struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	userAgent   string
	maxRetries  uint64
	baseDelay   time.Duration
	progressOut io.Writer
	logger      zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

// WithProgress enables upload progress bars written to w.
func WithProgress(w io.Writer) Option {
	return func(g *Gateway) {
		g.progressOut = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMaxRetries sets the retry budget for idempotent GETs.
func WithMaxRetries(n int) Option {
	return func(g *Gateway) {
		g.maxRetries = uint64(n)
	}
}

// WithBaseDelay sets the base delay for GET retry backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(g *Gateway) {
		g.baseDelay = d
	}
}

// New creates a Gateway for the given registry base URL and API key.
func New(baseURL, apiKey string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 5 * time.Minute},
		userAgent:  defaultUserAgent,
		maxRetries: 2,
		baseDelay:  500 * time.Millisecond,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PublishRelease uploads a release archive for name@version.
func (g *Gateway) PublishRelease(ctx context.Context, org, name, version string, archive *models.ArchiveArtifact, replace bool) (*models.RemoteResponse, error) {
	u := g.releaseURL(org, name, version)
	if replace {
		u += "?replace=true"
	}
	return g.upload(ctx, http.MethodPost, u, archive, "Uploading release")
}

// DeleteRelease removes a published release.
func (g *Gateway) DeleteRelease(ctx context.Context, org, name, version string) (*models.RemoteResponse, error) {
	return g.send(ctx, http.MethodDelete, g.releaseURL(org, name, version), nil, 0)
}

// PublishDocs uploads a docs archive for a published release.
func (g *Gateway) PublishDocs(ctx context.Context, org, name, version string, archive *models.ArchiveArtifact) (*models.RemoteResponse, error) {
	return g.upload(ctx, http.MethodPost, g.docsURL(org, name, version), archive, "Uploading docs")
}

// DeleteDocs removes the docs for a published release.
func (g *Gateway) DeleteDocs(ctx context.Context, org, name, version string) (*models.RemoteResponse, error) {
	return g.send(ctx, http.MethodDelete, g.docsURL(org, name, version), nil, 0)
}

// AddOwner grants ownership of a package to owner at the given level.
func (g *Gateway) AddOwner(ctx context.Context, org, name, owner, level string, transfer bool) (*models.RemoteResponse, error) {
	u := fmt.Sprintf("%s/owners/%s?level=%s&transfer=%t",
		g.packageURL(org, name), url.PathEscape(owner), url.QueryEscape(level), transfer)
	return g.send(ctx, http.MethodPut, u, nil, 0)
}

// GetPackage fetches package metadata; 404 means never published.
func (g *Gateway) GetPackage(ctx context.Context, org, name string) (*models.RemoteResponse, error) {
	return g.get(ctx, g.packageURL(org, name))
}

// UserOrganizations lists the authenticated user's organizations.
func (g *Gateway) UserOrganizations(ctx context.Context) (*models.RemoteResponse, error) {
	return g.get(ctx, g.baseURL+"/api/v1/users/me/organizations")
}

func (g *Gateway) packageURL(org, name string) string {
	if org == "" {
		return fmt.Sprintf("%s/api/v1/packages/%s", g.baseURL, url.PathEscape(name))
	}
	return fmt.Sprintf("%s/api/v1/repos/%s/packages/%s", g.baseURL, url.PathEscape(org), url.PathEscape(name))
}

func (g *Gateway) releaseURL(org, name, version string) string {
	return fmt.Sprintf("%s/releases/%s", g.packageURL(org, name), url.PathEscape(version))
}

func (g *Gateway) docsURL(org, name, version string) string {
	return g.releaseURL(org, name, version) + "/docs"
}

// upload sends archive bytes, wiring in the progress bar when enabled.
func (g *Gateway) upload(ctx context.Context, method, u string, archive *models.ArchiveArtifact, label string) (*models.RemoteResponse, error) {
	var body io.Reader = bytes.NewReader(archive.Bytes)
	if g.progressOut != nil {
		body = &progressReader{
			reader: body,
			out:    g.progressOut,
			total:  archive.Size(),
			label:  label,
		}
	}
	resp, err := g.send(ctx, method, u, body, archive.Size())
	if g.progressOut != nil {
		fmt.Fprintln(g.progressOut) // newline after progress
	}
	return resp, err
}

// send issues a request exactly once.
func (g *Gateway) send(ctx context.Context, method, u string, body io.Reader, contentLength int64) (*models.RemoteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = contentLength
	}
	return g.roundTrip(req)
}

// get issues an idempotent GET with retry on transport errors and 5xx.
// The last 5xx response is returned as-is once the budget is exhausted.
func (g *Gateway) get(ctx context.Context, u string) (*models.RemoteResponse, error) {
	var out *models.RemoteResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		resp, err := g.roundTrip(req)
		if err != nil {
			return err
		}
		out = resp
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d", resp.StatusCode)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.baseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, g.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if out != nil {
			// Exhausted retries against a responding server: surface the
			// last response so callers can report the server's detail.
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

func (g *Gateway) roundTrip(req *http.Request) (*models.RemoteResponse, error) {
	req.Header.Set("User-Agent", g.userAgent)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("contacting registry: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	g.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("registry call")

	return &models.RemoteResponse{
		StatusCode: resp.StatusCode,
		Body:       data,
		Header:     resp.Header,
	}, nil
}
