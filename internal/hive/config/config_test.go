package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FileThenEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hive.toml")
	body := `
listen_addr = ":9090"
database_url = "postgres://file/db"
secret_key = "` + sampleHexKey() + `"

[oidc]
issuer_url = "https://issuer.example.com"
client_id = "file-client"
client_secret = "file-secret"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HIVE_DATABASE_URL", "postgres://env/db")
	t.Setenv("HIVE_OIDC_CLIENT_ID", "env-client")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected file value to survive, got %q", cfg.ListenAddr)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Fatalf("expected env to override file, got %q", cfg.DatabaseURL)
	}
	if cfg.OIDC.ClientID != "env-client" {
		t.Fatalf("expected env to override file oidc client id, got %q", cfg.OIDC.ClientID)
	}
	if cfg.OIDC.ClientSecret != "file-secret" {
		t.Fatalf("expected unset-in-env field to keep file value, got %q", cfg.OIDC.ClientSecret)
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for empty required fields")
	}
}

func TestValidate_RejectsShortSecretKey(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://x/db"
	cfg.SecretKey = "deadbeef"
	cfg.OIDC = OIDCConfig{IssuerURL: "https://x", ClientID: "c", ClientSecret: "s"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short secret key")
	}
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://x/db"
	cfg.SecretKey = sampleHexKey()
	cfg.OIDC = OIDCConfig{IssuerURL: "https://x", ClientID: "c", ClientSecret: "s"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func sampleHexKey() string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 128)
	for i := range b {
		b[i] = hexDigits[i%len(hexDigits)]
	}
	return string(b)
}
