package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ztoapi/internal/domain"
	"ztoapi/internal/platform"
)

type mockKVPool struct {
	TokensFunc func(ctx context.Context, platformID string) ([]string, error)
}

func (m *mockKVPool) Tokens(ctx context.Context, platformID string) ([]string, error) {
	if m.TokensFunc != nil {
		return m.TokensFunc(ctx, platformID)
	}
	return nil, nil
}

func testDescriptor(authURL string) *platform.Descriptor {
	return &platform.Descriptor{
		ID:         "zai",
		OriginBase: "https://chat.z.ai",
		AuthURL:    authURL,
		XFEVersion: "prod-fe-1.0.94",
	}
}

func TestAcquire_OverrideWins(t *testing.T) {
	// Even with a populated static pool, the per-request override must win.
	p := New([]string{"static-token"}, http.DefaultClient)

	tok, source, err := p.Acquire(context.Background(), testDescriptor(""), "override-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "override-token" {
		t.Errorf("expected override token, got %q", tok)
	}
	if source != SourceHeader {
		t.Errorf("expected header source, got %q", source)
	}
}

func TestAcquire_StaticPoolRoundRobin(t *testing.T) {
	p := New([]string{"a", "b", "c"}, http.DefaultClient)
	desc := testDescriptor("")

	var got []string
	for i := 0; i < 6; i++ {
		tok, source, err := p.Acquire(context.Background(), desc, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if source != SourceStatic {
			t.Fatalf("expected static source, got %q", source)
		}
		got = append(got, tok)
	}

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round robin broken at %d: got %v", i, got)
		}
	}
}

func TestAcquire_KVPoolWhenStaticEmpty(t *testing.T) {
	kv := &mockKVPool{
		TokensFunc: func(ctx context.Context, platformID string) ([]string, error) {
			if platformID != "zai" {
				t.Errorf("unexpected platform id: %q", platformID)
			}
			return []string{"pooled-token"}, nil
		},
	}
	p := New(nil, http.DefaultClient, WithKVPool(kv))

	tok, source, err := p.Acquire(context.Background(), testDescriptor(""), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "pooled-token" {
		t.Errorf("expected pooled token, got %q", tok)
	}
	if source != SourceKV {
		t.Errorf("expected kv source, got %q", source)
	}
}

func TestAcquire_AnonymousFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"anon-token"}`))
	}))
	defer srv.Close()

	kv := &mockKVPool{
		TokensFunc: func(ctx context.Context, platformID string) ([]string, error) {
			return nil, nil // empty pool, not an error
		},
	}
	p := New(nil, srv.Client(), WithKVPool(kv))

	tok, source, err := p.Acquire(context.Background(), testDescriptor(srv.URL), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "anon-token" {
		t.Errorf("expected anonymous token, got %q", tok)
	}
	if source != SourceAnonymous {
		t.Errorf("expected anonymous source, got %q", source)
	}
}

func TestAcquire_KVErrorFallsThroughToAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"anon-token"}`))
	}))
	defer srv.Close()

	kv := &mockKVPool{
		TokensFunc: func(ctx context.Context, platformID string) ([]string, error) {
			return nil, errors.New("redis down")
		},
	}
	p := New(nil, srv.Client(), WithKVPool(kv))

	tok, _, err := p.Acquire(context.Background(), testDescriptor(srv.URL), "")
	if err != nil {
		t.Fatalf("kv failure must not abort the cascade: %v", err)
	}
	if tok != "anon-token" {
		t.Errorf("expected anonymous token, got %q", tok)
	}
}

func TestAcquire_AnonymousNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := New(nil, srv.Client())

	_, source, err := p.Acquire(context.Background(), testDescriptor(srv.URL), "")
	if !errors.Is(err, domain.ErrTokenFetchFailed) {
		t.Errorf("expected ErrTokenFetchFailed, got %v", err)
	}
	if source != SourceNone {
		t.Errorf("expected no source, got %q", source)
	}
}

func TestAcquire_AnonymousEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	p := New(nil, srv.Client())

	_, _, err := p.Acquire(context.Background(), testDescriptor(srv.URL), "")
	if !errors.Is(err, domain.ErrTokenFetchFailed) {
		t.Errorf("expected ErrTokenFetchFailed for empty token, got %v", err)
	}
}

func TestAcquire_AnonymousTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-done
	}))
	defer srv.Close()
	defer close(done)

	p := New(nil, srv.Client(), WithAuthTimeout(50*time.Millisecond))

	_, _, err := p.Acquire(context.Background(), testDescriptor(srv.URL), "")
	if !errors.Is(err, domain.ErrTokenTimeout) {
		t.Errorf("expected ErrTokenTimeout, got %v", err)
	}
}
