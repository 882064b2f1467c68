package config

import (
	"os"
	"strings"
	"testing"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultsToLocalWithoutDatabase(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MODE")
	unsetEnvWithCleanup(t, "DATABASE_URL")
	unsetEnvWithCleanup(t, "JWT_SECRET")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Mode != ModeLocal {
		t.Fatalf("expected local mode, got %q", cfg.Mode)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("expected local development secret to be applied")
	}
	if cfg.ClaimGate != domain.SavingsClaimGateDaily {
		t.Fatalf("expected daily savings gate by default, got %q", cfg.ClaimGate)
	}
}

func TestLoadConfig_LiveModeRequiresSecret(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MODE", "live")
	setEnvWithCleanup(t, "DATABASE_URL", "postgres://ledger@localhost/ledger")
	unsetEnvWithCleanup(t, "JWT_SECRET")

	if _, err := LoadConfig(t.TempDir()); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got %v", err)
	}
}

func TestLoadConfig_RejectsDisabledSavingsGateInLiveMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MODE", "LIVE")
	setEnvWithCleanup(t, "DATABASE_URL", "postgres://ledger@localhost/ledger")
	setEnvWithCleanup(t, "JWT_SECRET", "secret")
	setEnvWithCleanup(t, "SAVINGS_CLAIM_GATE", "off")

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected error for disabled savings gate in live mode")
	}
}

func TestLoadConfig_UnknownModeFails(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MODE", "demo")

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MODE")
	unsetEnvWithCleanup(t, "DATABASE_URL")
	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")
	setEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 2 || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func TestLoadConfig_NormalizesInvalidNumbers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MODE")
	unsetEnvWithCleanup(t, "DATABASE_URL")
	setEnvWithCleanup(t, "JWT_TTL_MINUTES", "-5")
	setEnvWithCleanup(t, "OUTBOX_BATCH_SIZE", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JWTTTLMinutes != 60*24 {
		t.Fatalf("expected default JWT TTL, got %d", cfg.JWTTTLMinutes)
	}
	if cfg.OutboxBatchSize != 50 {
		t.Fatalf("expected default batch size, got %d", cfg.OutboxBatchSize)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
