package addon

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultCompatTableResolve(t *testing.T) {
	table := DefaultCompatTable()

	tests := []struct {
		version string
		want    string
		ok      bool
	}{
		{version: "2.18.0", want: "2-18", ok: true},
		{version: "2.16.2", want: "2-18", ok: true},
		{version: "2.12.3", want: "2-12", ok: true},
		{version: "2.8.0", want: "2-8", ok: true},
		{version: "3.1.0", want: "3-4", ok: true},
		{version: "2.19.0"},
		{version: "1.13.0"},
		{version: ""},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, ok := table.Resolve(tt.version)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.version, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCompatTableFirstMatchWins(t *testing.T) {
	table, err := ParseCompatTable([]byte(`
- tag: "wide"
  pattern: '^2\.'
- tag: "narrow"
  pattern: '^2\.18\.'
`))
	if err != nil {
		t.Fatalf("ParseCompatTable() error = %v", err)
	}
	if got, _ := table.Resolve("2.18.0"); got != "wide" {
		t.Fatalf("Resolve() = %q, want wide", got)
	}
	if !reflect.DeepEqual(table.Tags(), []string{"wide", "narrow"}) {
		t.Fatalf("Tags() = %v", table.Tags())
	}
}

func TestParseCompatTableErrors(t *testing.T) {
	tests := map[string]string{
		"empty":         `[]`,
		"missing tag":   `[{pattern: "^2"}]`,
		"missing regex": `[{tag: "2-18"}]`,
		"bad regex":     `[{tag: "2-18", pattern: "("}]`,
		"duplicate":     `[{tag: "a", pattern: "^2"}, {tag: "a", pattern: "^3"}]`,
		"not yaml list": `tag: a`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCompatTable([]byte(input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadCompatTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compat.yaml")
	if err := os.WriteFile(path, []byte("- tag: \"4-0\"\n  pattern: '^4\\.'\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadCompatTable(path)
	if err != nil {
		t.Fatalf("LoadCompatTable() error = %v", err)
	}
	if got, ok := table.Resolve("4.2.0"); !ok || got != "4-0" {
		t.Fatalf("Resolve() = (%q, %v)", got, ok)
	}

	def, err := LoadCompatTable("")
	if err != nil {
		t.Fatalf("LoadCompatTable(\"\") error = %v", err)
	}
	if def.Len() != DefaultCompatTable().Len() {
		t.Fatal("empty path should load the default table")
	}

	if _, err := LoadCompatTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestUnsupportedVersionMessage(t *testing.T) {
	table, _ := ParseCompatTable([]byte(`[{tag: "a", pattern: "^1"}, {tag: "b", pattern: "^2"}]`))
	msg := unsupportedVersionError("9.0.0", table).Error()
	if !strings.HasPrefix(msg, `No support for ember version "9.0.0".`) {
		t.Fatalf("message = %q", msg)
	}
	if !strings.HasSuffix(msg, `Supported versions: "a", "b"`) {
		t.Fatalf("message = %q", msg)
	}
}
