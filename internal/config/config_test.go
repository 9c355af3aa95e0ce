package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlPort != 6680 || cfg.DataPort != 6681 {
		t.Fatalf("ports=%d/%d", cfg.ControlPort, cfg.DataPort)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("db_driver=%q", cfg.DBDriver)
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("history_limit=%d", cfg.HistoryLimit)
	}
	if cfg.CollectCommand != "wg show all dump" {
		t.Fatalf("collect_command=%q", cfg.CollectCommand)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WGT_DATA_PORT", "9999")
	t.Setenv("WGT_AGENT_TOKEN", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataPort != 9999 {
		t.Fatalf("data_port=%d", cfg.DataPort)
	}
	if cfg.AgentToken != "from-env" {
		t.Fatalf("agent_token=%q", cfg.AgentToken)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wgtally.yaml")
	content := "db_path: /var/lib/wgtally/peers.db\nhistory_limit: 25\nssh_host: 192.168.1.1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DBPath != "/var/lib/wgtally/peers.db" {
		t.Fatalf("db_path=%q", cfg.DBPath)
	}
	if cfg.HistoryLimit != 25 {
		t.Fatalf("history_limit=%d", cfg.HistoryLimit)
	}
	if cfg.SSHHost != "192.168.1.1" || cfg.SSHUser != "root" {
		t.Fatalf("ssh=%s@%s", cfg.SSHUser, cfg.SSHHost)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
