package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSettings(t *testing.T, base, sub, body string) string {
	t.Helper()
	dir := filepath.Join(base, sub, "user", "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "comfy.settings.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMissingFileReturnsDefault(t *testing.T) {
	r := New(t.TempDir())
	if got := r.Get("sn0w.Anything", "fallback"); got != "fallback" {
		t.Errorf("Get = %q, want fallback", got)
	}
	if got := r.GetBool("sn0w.Flag", true); got != true {
		t.Error("GetBool did not return default")
	}
	if got := r.GetStringList("sn0w.List", []string{"a"}); len(got) != 1 || got[0] != "a" {
		t.Errorf("GetStringList = %v", got)
	}
}

func TestStandalonePreferredOverPortable(t *testing.T) {
	base := t.TempDir()
	standalone := writeSettings(t, base, "", `{"k": "standalone"}`)
	writeSettings(t, base, "ComfyUI", `{"k": "portable"}`)

	r := New(base)
	if r.Path() != standalone {
		t.Errorf("Path = %q, want %q", r.Path(), standalone)
	}
	if got := r.Get("k", ""); got != "standalone" {
		t.Errorf("Get = %q", got)
	}
}

func TestPortableFallback(t *testing.T) {
	base := t.TempDir()
	writeSettings(t, base, "ComfyUI", `{"k": "portable"}`)

	r := New(base)
	if got := r.Get("k", ""); got != "portable" {
		t.Errorf("Get = %q", got)
	}
}

func TestEditsPickedUpWithoutRestart(t *testing.T) {
	base := t.TempDir()
	path := writeSettings(t, base, "", `{"sn0w.LoggingLevel": ["WARNING"]}`)

	r := New(base)
	if got := r.GetStringList("sn0w.LoggingLevel", nil); len(got) != 1 || got[0] != "WARNING" {
		t.Fatalf("GetStringList = %v", got)
	}

	if err := os.WriteFile(path, []byte(`{"sn0w.LoggingLevel": ["DEBUG", "WARNING"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := r.GetStringList("sn0w.LoggingLevel", nil); len(got) != 2 || got[0] != "DEBUG" {
		t.Errorf("GetStringList after edit = %v", got)
	}
}

func TestWrongTypeReturnsDefault(t *testing.T) {
	base := t.TempDir()
	writeSettings(t, base, "", `{"k": 42, "b": "yes"}`)

	r := New(base)
	if got := r.Get("k", "d"); got != "d" {
		t.Errorf("Get on number = %q, want default", got)
	}
	if got := r.GetBool("b", false); got != false {
		t.Error("GetBool on string did not return default")
	}
}
