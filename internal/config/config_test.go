package config

import "testing"

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
}

func TestLoadServerConfigAcceptsFullAddr(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
}

func TestLoadServerConfigRejectsGarbage(t *testing.T) {
	t.Setenv("PORT", "80 80")

	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for PORT with spaces")
	}
}

func TestAIConfigEnabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  AIConfig
		want bool
	}{
		{"api key", AIConfig{Model: "m", APIKey: "k"}, true},
		{"ak/sk", AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}, true},
		{"missing model", AIConfig{APIKey: "k"}, false},
		{"missing credentials", AIConfig{Model: "m"}, false},
		{"half pair", AIConfig{Model: "m", AccessKey: "a"}, false},
	}

	for _, tc := range cases {
		if got := tc.cfg.Enabled(); got != tc.want {
			t.Fatalf("%s: Enabled() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLoadAIConfigDefaults(t *testing.T) {
	t.Setenv("ARK_TEMPERATURE", "")
	t.Setenv("ARK_MAX_TOKENS", "")

	cfg, err := loadAIConfig()
	if err != nil {
		t.Fatalf("loadAIConfig err: %v", err)
	}
	if cfg.Temperature != 0.7 {
		t.Fatalf("unexpected temperature: %v", cfg.Temperature)
	}
	if cfg.MaxTokens != 800 {
		t.Fatalf("unexpected max tokens: %d", cfg.MaxTokens)
	}
}

func TestLoadAuthConfigRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	if _, err := loadAuthConfig(); err == nil {
		t.Fatal("expected error when AUTH_SECRET is empty")
	}
}
