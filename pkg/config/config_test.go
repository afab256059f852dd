package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	s.valid = true
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_KeepsDefaults(t *testing.T) {
	path := writeFile(t, "name: corpus\n")
	cfg := &sample{Port: 8080}
	if err := Load(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "corpus" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.valid {
		t.Error("Validate was not called")
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_NAME", "from-env")
	path := writeFile(t, "name: ${CONFIG_TEST_NAME}\nport: 1\n")
	cfg := &sample{}
	if err := Load(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-env" {
		t.Errorf("name = %q", cfg.Name)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "")
	cfg := &sample{Port: 1}
	if err := Load(path, cfg); err != nil {
		t.Fatalf("empty file should keep defaults: %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "nmae: typo\nport: 1\n")
	err := Load(path, &sample{})
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	err := Load(path, &sample{})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadIfExists(t *testing.T) {
	cfg := &sample{Port: 8080}
	found, err := LoadIfExists(filepath.Join(t.TempDir(), "missing.yaml"), cfg)
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if !cfg.valid {
		t.Error("defaults should still be validated")
	}

	found, err = LoadIfExists(writeFile(t, "port: 9\n"), cfg)
	if err != nil || !found || cfg.Port != 9 {
		t.Fatalf("found=%v err=%v cfg=%+v", found, err, cfg)
	}
}
