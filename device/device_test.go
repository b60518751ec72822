package device

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveGeneratesAndPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if first == "" {
		t.Fatal("expected generated id")
	}

	data, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		t.Fatal(err)
	}
	if ident.DeviceID != first || ident.CreatedAt == 0 {
		t.Errorf("persisted identity = %+v", ident)
	}

	second, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second launch id = %q, want %q", second, first)
	}
}

func TestResolveOverride(t *testing.T) {
	dir := t.TempDir()
	got, err := Resolve(dir, "  shared-id ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "shared-id" {
		t.Errorf("got %q", got)
	}
	if _, err := os.Stat(Path(dir)); !os.IsNotExist(err) {
		t.Error("override must not write the identity file")
	}
}

func TestResolveReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte(`{"deviceId":"abc","createdAt":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}

func TestResolveReplacesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected regenerated id")
	}
}
