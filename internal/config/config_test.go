package config

import (
	"reflect"
	"testing"
	"time"
)

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "tok1", []string{"tok1"}},
		{"multiple", "tok1|tok2|tok3", []string{"tok1", "tok2", "tok3"}},
		{"whitespace trimmed", " tok1 | tok2 ", []string{"tok1", "tok2"}},
		{"blank segments dropped", "tok1||tok2|", []string{"tok1", "tok2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitTokens(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitTokens(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRoutes(t *testing.T) {
	got := parseRoutes("GLM-4.5:zai:0727-360B-API,zread-glm:zread:glm-4.5")

	want := []Route{
		{ClientModel: "GLM-4.5", PlatformID: "zai", UpstreamID: "0727-360B-API"},
		{ClientModel: "zread-glm", PlatformID: "zread", UpstreamID: "glm-4.5"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRoutes = %v, want %v", got, want)
	}
}

func TestParseRoutes_TwoPartBindsDefaultPlatform(t *testing.T) {
	got := parseRoutes("mymodel:upstream-id")

	if len(got) != 1 {
		t.Fatalf("expected 1 route, got %d", len(got))
	}
	if got[0].PlatformID != "" {
		t.Errorf("two-part entry must leave platform empty, got %q", got[0].PlatformID)
	}
	if got[0].UpstreamID != "upstream-id" {
		t.Errorf("unexpected upstream id: %q", got[0].UpstreamID)
	}
}

func TestParseRoutes_MalformedEntriesSkipped(t *testing.T) {
	got := parseRoutes("justaname,:noclient,ok:zai:id,client:")

	if len(got) != 1 {
		t.Fatalf("expected only the valid entry, got %v", got)
	}
	if got[0].ClientModel != "ok" {
		t.Errorf("unexpected surviving route: %v", got[0])
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.DefaultModel != "GLM-4.5" {
		t.Errorf("unexpected default model: %q", cfg.DefaultModel)
	}
	if cfg.DefaultPlatform != "zai" {
		t.Errorf("unexpected default platform: %q", cfg.DefaultPlatform)
	}
	if !cfg.DefaultStream {
		t.Error("streaming should default on")
	}
	if cfg.EnableThinking {
		t.Error("thinking should default off")
	}
	if cfg.ThinkTagsMode != "strip" {
		t.Errorf("unexpected think tags mode: %q", cfg.ThinkTagsMode)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("unexpected cache ttl: %v", cfg.CacheTTL)
	}
	if cfg.AuthTimeout != 10*time.Second {
		t.Errorf("unexpected auth timeout: %v", cfg.AuthTimeout)
	}
	if cfg.TalkSendTimeout != 45*time.Second {
		t.Errorf("unexpected talk send timeout: %v", cfg.TalkSendTimeout)
	}
}

func TestLoad_InvalidThinkTagsModeFallsBack(t *testing.T) {
	t.Setenv("THINK_TAGS_MODE", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ThinkTagsMode != "strip" {
		t.Errorf("expected fallback to strip, got %q", cfg.ThinkTagsMode)
	}
}

func TestLoad_TokenPool(t *testing.T) {
	t.Setenv("UPSTREAM_TOKEN", "t1|t2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg.UpstreamTokens, []string{"t1", "t2"}) {
		t.Errorf("unexpected token pool: %v", cfg.UpstreamTokens)
	}
}

func TestLoad_BarePortGetsColon(t *testing.T) {
	t.Setenv("ADDR", "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Addr)
	}
}

func TestGetDurationEnv_PlainSeconds(t *testing.T) {
	t.Setenv("TEST_DURATION", "90")

	if d := getDurationEnv("TEST_DURATION", time.Second); d != 90*time.Second {
		t.Errorf("expected 90s, got %v", d)
	}

	t.Setenv("TEST_DURATION", "2m")
	if d := getDurationEnv("TEST_DURATION", time.Second); d != 2*time.Minute {
		t.Errorf("expected 2m, got %v", d)
	}
}
