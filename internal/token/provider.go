// Package token acquires upstream bearer credentials through a strict
// fallback cascade: explicit per-request override, static pool, external
// key-value pool, anonymous session. The first stage that yields a token
// wins; later stages are not consulted.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ztoapi/internal/domain"
	"ztoapi/internal/platform"
	"ztoapi/internal/telemetry"
)

// KVPool lists pooled credentials for a platform from an external store.
// An empty result means "nothing pooled", not an error.
type KVPool interface {
	Tokens(ctx context.Context, platformID string) ([]string, error)
}

// Source identifies which cascade stage produced a token.
type Source string

const (
	SourceHeader    Source = "header"
	SourceStatic    Source = "static"
	SourceKV        Source = "kv"
	SourceAnonymous Source = "anonymous"
	SourceNone      Source = "none"
)

type Provider struct {
	static      []string
	cursor      atomic.Uint64
	kv          KVPool // nil when no external pool is configured
	client      *http.Client
	authTimeout time.Duration
}

type Option func(*Provider)

func WithKVPool(kv KVPool) Option {
	return func(p *Provider) { p.kv = kv }
}

func WithAuthTimeout(d time.Duration) Option {
	return func(p *Provider) { p.authTimeout = d }
}

func New(staticPool []string, client *http.Client, opts ...Option) *Provider {
	p := &Provider{
		static:      staticPool,
		client:      client,
		authTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire walks the cascade for one request and reports which stage won.
// The override token, when present, is used verbatim with no validation.
func (p *Provider) Acquire(ctx context.Context, desc *platform.Descriptor, override string) (string, Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.acquire",
		trace.WithAttributes(attribute.String("upstream.platform", desc.ID)))
	defer span.End()

	if override != "" {
		slog.Debug("using per-request token override", "platform", desc.ID)
		return override, SourceHeader, nil
	}

	if tok := p.fromStaticPool(); tok != "" {
		slog.Debug("token selected from static pool", "platform", desc.ID, "pool_size", len(p.static))
		return tok, SourceStatic, nil
	}

	if p.kv != nil {
		tok, err := p.fromKVPool(ctx, desc.ID)
		if err != nil {
			slog.Warn("kv token pool lookup failed", "platform", desc.ID, "error", err)
		} else if tok != "" {
			slog.Debug("token selected from kv pool", "platform", desc.ID)
			return tok, SourceKV, nil
		}
	}

	tok, err := p.fetchAnonymous(ctx, desc)
	if err != nil {
		slog.Warn("anonymous token fetch failed", "platform", desc.ID, "error", err)
		if errors.Is(err, domain.ErrTokenTimeout) || errors.Is(err, domain.ErrTokenFetchFailed) {
			return "", SourceNone, err
		}
		return "", SourceNone, domain.ErrTokenUnavailable
	}
	slog.Debug("anonymous token acquired", "platform", desc.ID)
	return tok, SourceAnonymous, nil
}

// fromStaticPool advances a process-wide round-robin cursor. The cursor may
// race under heavy concurrency and skip or reuse a slot; exact distribution
// is advisory.
func (p *Provider) fromStaticPool() string {
	if len(p.static) == 0 {
		return ""
	}
	idx := (p.cursor.Add(1) - 1) % uint64(len(p.static))
	return p.static[idx]
}

func (p *Provider) fromKVPool(ctx context.Context, platformID string) (string, error) {
	tokens, err := p.kv.Tokens(ctx, platformID)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[rand.Intn(len(tokens))], nil
}

// fetchAnonymous requests an anonymous session from the platform's auth
// endpoint within the auth budget.
func (p *Provider) fetchAnonymous(ctx context.Context, desc *platform.Descriptor) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.AuthURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	req.Header = desc.AuthHeaders()

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", domain.ErrTokenTimeout
		}
		return "", fmt.Errorf("%w: %v", domain.ErrTokenFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", domain.ErrTokenFetchFailed, resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrTokenFetchFailed, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: empty token in response", domain.ErrTokenFetchFailed)
	}

	return body.Token, nil
}
