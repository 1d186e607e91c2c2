package config

import (
	"strings"
	"testing"
	"time"
)

// validFullConfig returns Defaults plus the fields an operator must always
// supply for full mode.
func validFullConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0x" + strings.Repeat("ab", 32)
	cfg.Chain.RPCURL = "https://rpc.example.com"
	cfg.Chain.ChainID = 97476
	cfg.Chain.LoanManagerAddress = "0x" + strings.Repeat("12", 20)
	cfg.Ponder.GraphQLURL = "https://indexer.example.com/graphql"
	return cfg
}

func TestValidateFullMode(t *testing.T) {
	cfg := validFullConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validFullConfig()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `unknown mode "turbo"`) {
		t.Fatalf("Validate() = %v, want unknown mode error", err)
	}
}

func TestValidateIngestModeNeedsNoWalletOrChain(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest"
	cfg.Ponder.GraphQLURL = "https://indexer.example.com/graphql"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for ingest without wallet/chain", err)
	}
}

func TestValidateServerModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Chain.RPCURL = "https://rpc.example.com"
	cfg.Chain.ChainID = 97476
	cfg.Chain.LoanManagerAddress = "0x" + strings.Repeat("12", 20)
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "wallet:") {
		t.Fatalf("Validate() = %v, want wallet error", err)
	}
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validFullConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = "/etc/liquidator/key.enc"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("Validate() = %v, want key_password error", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validFullConfig()
	cfg.Liquidation.BatchSize = 0
	cfg.Liquidation.MaxAttempts = 0
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want combined error")
	}
	for _, want := range []string{"batch_size", "max_attempts", "redis: addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := validFullConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "s3: endpoint") || !strings.Contains(err.Error(), "s3: bucket") {
		t.Fatalf("Validate() = %v, want s3 errors", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIQUIDATOR_MODE", "monitor")
	t.Setenv("LIQUIDATOR_CHAIN_CHAIN_ID", "137")
	t.Setenv("LIQUIDATOR_LIQUIDATION_CHECK_INTERVAL", "45s")
	t.Setenv("LIQUIDATOR_LIQUIDATION_ENABLED", "false")
	t.Setenv("LIQUIDATOR_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LIQUIDATOR_SERVER_RATE_LIMIT", "60")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Chain.ChainID != 137 {
		t.Errorf("ChainID = %d, want 137", cfg.Chain.ChainID)
	}
	if cfg.Liquidation.CheckInterval.Duration != 45*time.Second {
		t.Errorf("CheckInterval = %v, want 45s", cfg.Liquidation.CheckInterval.Duration)
	}
	if cfg.Liquidation.Enabled {
		t.Error("Liquidation.Enabled = true, want false")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.RateLimit != 60 {
		t.Errorf("RateLimit = %d, want 60", cfg.Server.RateLimit)
	}
}

func TestEnvOverridesIgnoreEmptyAndMalformed(t *testing.T) {
	t.Setenv("LIQUIDATOR_LIQUIDATION_BATCH_SIZE", "not-a-number")
	t.Setenv("LIQUIDATOR_REDIS_ADDR", "")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Liquidation.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want default 20", cfg.Liquidation.BatchSize)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want default", cfg.Redis.Addr)
	}
}

func TestDatabaseURLAlias(t *testing.T) {
	t.Setenv("LIQUIDATOR_DATABASE_URL", "postgres://u:p@db:5432/liq")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Postgres.DSN != "postgres://u:p@db:5432/liq" {
		t.Errorf("DSN = %q, want alias value", cfg.Postgres.DSN)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validFullConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)

	if red.Wallet.PrivateKey != "***" || red.Postgres.Password != "***" || red.Notify.TelegramToken != "***" {
		t.Errorf("secrets not redacted: %+v", red)
	}
	if red.Chain.RPCURL != cfg.Chain.RPCURL || red.Server.Port != cfg.Server.Port {
		t.Error("non-secret fields changed")
	}
	// Original must be untouched.
	if cfg.Postgres.Password != "hunter2" {
		t.Error("RedactedConfig mutated the original")
	}
}

func TestIsHexAddress(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"lowercase", "0x" + strings.Repeat("ab", 20), true},
		{"uppercase", "0x" + strings.Repeat("AB", 20), true},
		{"no prefix", strings.Repeat("ab", 21), false},
		{"too short", "0x" + strings.Repeat("ab", 19), false},
		{"bad hex", "0x" + strings.Repeat("zz", 20), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		if got := isHexAddress(tc.in); got != tc.want {
			t.Errorf("%s: isHexAddress(%q) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
	}
}
