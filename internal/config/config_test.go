package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
replication:
  server_id: 1001
  statedir: /var/lib/nosqlbridge
  hosts: ["db1:3306"]
  user: repl
  password: secret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Replication.TimeoutSeconds != 30 {
		t.Fatalf("expected default timeout_seconds 30, got %d", cfg.Replication.TimeoutSeconds)
	}
	if cfg.Bridge.Listen != "127.0.0.1:27017" {
		t.Fatalf("expected default listen address, got %q", cfg.Bridge.Listen)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadWithoutPathUsesDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bridge.IDColumnLength != 255 {
		t.Fatalf("expected default id_column_length 255, got %d", cfg.Bridge.IDColumnLength)
	}
}

func TestValidateReplicationRejectsMissingServerID(t *testing.T) {
	cfg := &Replication{StateDir: "/tmp", Hosts: []string{"db1"}, User: "u", Password: "p", TimeoutSeconds: 1}
	if err := ValidateReplication(cfg); err == nil {
		t.Fatal("expected error for zero server_id")
	}
}

func TestValidateReplicationRejectsMalformedGTIDStart(t *testing.T) {
	cfg := &Replication{ServerID: 1, StateDir: "/tmp", Hosts: []string{"db1"}, User: "u", Password: "p", TimeoutSeconds: 1, GTIDStart: "garbage"}
	if err := ValidateReplication(cfg); err == nil {
		t.Fatal("expected error for malformed gtid_start")
	}
}

func TestValidateReplicationAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Replication{ServerID: 1, StateDir: "/tmp", Hosts: []string{"db1"}, User: "u", Password: "p", TimeoutSeconds: 1, GTIDStart: "newest"}
	if err := ValidateReplication(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateBridgeRejectsMissingDSN(t *testing.T) {
	cfg := &Bridge{Listen: "127.0.0.1:27017", IDColumnLength: 255}
	if err := ValidateBridge(cfg); err == nil {
		t.Fatal("expected error for missing downstream_dsn")
	}
}
