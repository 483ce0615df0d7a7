package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	s.valid = true
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	file := writeConfig(t, "name: ${SAMPLE_NAME}\n")

	s := &sample{Port: 80}
	if err := Load(file, s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "from-env" || s.Port != 80 || !s.valid {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "name: x\nport: 1\nextra: true\n"},
		{"bad yaml", "name: [\n"},
		{"validation", "name: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Load(writeConfig(t, tt.data), &sample{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	s := &sample{Port: 1}
	if err := Load(writeConfig(t, ""), s); err != nil {
		t.Fatalf("empty file should keep defaults: %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")

	s := &sample{Port: 8080}
	if err := LoadOptional(missing, s); err != nil {
		t.Fatal(err)
	}
	if !s.valid {
		t.Error("defaults were not validated")
	}

	if err := LoadOptional(missing, &sample{}); err == nil {
		t.Error("invalid defaults should fail")
	}
}
