package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("telemetry:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("telemetry:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("planner:\n  base_url: ${SUPERVISOR_TEST_PLANNER_URL}\n"), 0600)
	os.Setenv("SUPERVISOR_TEST_PLANNER_URL", "http://planner.local:8000")
	defer os.Unsetenv("SUPERVISOR_TEST_PLANNER_URL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Planner.BaseURL != "http://planner.local:8000" {
		t.Errorf("planner.base_url = %q, want %q", cfg.Planner.BaseURL, "http://planner.local:8000")
	}
}

func TestLoad_InlineRobotID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("robot_id: buddy-42\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RobotID != "buddy-42" {
		t.Errorf("robot_id = %q, want %q", cfg.RobotID, "buddy-42")
	}
}

func TestApplyDefaults_MemoryFileDerivedFromDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: /var/lib/robot-buddy\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := filepath.Join("/var/lib/robot-buddy", "memory.json")
	if cfg.Memory.File != want {
		t.Errorf("memory.file = %q, want %q", cfg.Memory.File, want)
	}
}

func TestApplyDefaults_MemoryFileRespectsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: /var/lib/robot-buddy\nmemory:\n  file: /tmp/custom-memory.json\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Memory.File != "/tmp/custom-memory.json" {
		t.Errorf("memory.file = %q, want override preserved", cfg.Memory.File)
	}
}

func TestValidate_TelemetryPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range telemetry.port")
	}
}

func TestValidate_BaudRateMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.Transport.BaudRate = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive baud_rate")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "extremely-verbose"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unrecognized log_level")
	}
}

func TestPlannerConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  PlannerConfig
		want bool
	}{
		{"set", PlannerConfig{BaseURL: "http://planner:8000"}, true},
		{"empty", PlannerConfig{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConverseConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConverseConfig
		want bool
	}{
		{"set", ConverseConfig{URL: "ws://planner:8000/converse"}, true},
		{"empty", ConverseConfig{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefault_AppliesDefaults(t *testing.T) {
	cfg := Default()
	if cfg.RobotID == "" {
		t.Error("expected non-empty default robot_id")
	}
	if cfg.Transport.BaudRate != 115200 {
		t.Errorf("baud_rate = %d, want 115200", cfg.Transport.BaudRate)
	}
	if cfg.Telemetry.Port != 8080 {
		t.Errorf("telemetry.port = %d, want 8080", cfg.Telemetry.Port)
	}
}
