package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEOGUESSR_NCFA_TOKEN", "token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Verification.CodeExpiry != 5*time.Minute {
		t.Errorf("code expiry = %v", cfg.Verification.CodeExpiry)
	}
	if cfg.Verification.CodeLength != 6 {
		t.Errorf("code length = %d", cfg.Verification.CodeLength)
	}
	if cfg.Verification.RateLimitPerWindow != 3 || cfg.Verification.RateLimitWindow != time.Hour {
		t.Errorf("rate limit = %d per %v", cfg.Verification.RateLimitPerWindow, cfg.Verification.RateLimitWindow)
	}
	if cfg.Verification.ReconcileInterval != 30*time.Second {
		t.Errorf("reconcile interval = %v", cfg.Verification.ReconcileInterval)
	}
	if got := strings.Join(cfg.Verification.AllowedCallbackHosts, ","); got != "localhost,127.0.0.1,::1" {
		t.Errorf("allowed hosts = %q", got)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Errorf("webhook timeout = %v", cfg.Webhook.Timeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEOGUESSR_NCFA_TOKEN", "token")
	t.Setenv("STORAGE_BACKEND", "Redis")
	t.Setenv("CODE_EXPIRY", "10m")
	t.Setenv("RATE_LIMIT_PER_HOUR", "5")
	t.Setenv("ALLOWED_CALLBACK_HOSTS", " bot.example.com , ,api.example.com")
	t.Setenv("PLATFORM_REQUESTS_PER_SECOND", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Backend != BackendRedis {
		t.Errorf("backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Verification.CodeExpiry != 10*time.Minute {
		t.Errorf("code expiry = %v", cfg.Verification.CodeExpiry)
	}
	if cfg.Verification.RateLimitPerWindow != 5 {
		t.Errorf("rate limit = %d", cfg.Verification.RateLimitPerWindow)
	}
	if got := strings.Join(cfg.Verification.AllowedCallbackHosts, ","); got != "bot.example.com,api.example.com" {
		t.Errorf("allowed hosts = %q", got)
	}
	if cfg.Platform.RequestsPerSecond != 0.5 {
		t.Errorf("rps = %v", cfg.Platform.RequestsPerSecond)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("GEOGUESSR_NCFA_TOKEN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "GEOGUESSR_NCFA_TOKEN") {
		t.Fatalf("err = %v, want missing token error", err)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("GEOGUESSR_NCFA_TOKEN", "token")
	t.Setenv("STORAGE_BACKEND", "sqlite")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "STORAGE_BACKEND") {
		t.Fatalf("err = %v, want backend error", err)
	}
}
