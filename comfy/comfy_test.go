package comfy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sn0w/characters"
	"sn0w/config"
	"sn0w/lora"
	"sn0w/relay"
	"sn0w/settings"
)

func newTestRunner(t *testing.T) (*Runner, *characters.Store) {
	t.Helper()

	base := t.TempDir()
	dir := filepath.Join(base, "user", "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "comfy.settings.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	reader := config.New(base)

	loraDir := t.TempDir()
	loraPath := filepath.Join(loraDir, "characters", "megumin_v1.safetensors")
	if err := os.MkdirAll(filepath.Dir(loraPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(loraPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	finder := lora.NewFinder(settings.LoraConfig{Sd15Dirs: []string{loraDir}}, reader)

	catalog := `[
		{"name": "megumin (konosuba)", "associated_string": "megumin \\(konosuba\\)", "prompt": "red eyes"}
	]`
	catalogPath := filepath.Join(t.TempDir(), "characters.json")
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	chars, err := characters.Load(catalogPath, "", reader)
	if err != nil {
		t.Fatal(err)
	}

	return NewRunner(settings.ComfyUiConfig{}, relay.New(5*time.Millisecond), finder, chars, nil), chars
}

// A character selection yields a weighted, escaped tag, not a filename. That
// tag must still resolve to the character's lora on disk.
func TestResolveLoraFromWeightedCharacterTag(t *testing.T) {
	r, chars := newTestRunner(t)

	sel := chars.Select("megumin (konosuba)", 1.5, false, false)
	if sel.Tag != `(megumin \(konosuba\):1.5), ` {
		t.Fatalf("Select produced tag %q", sel.Tag)
	}

	path, ok := r.resolveLora(sel.Tag, false)
	if !ok {
		t.Fatal("resolveLora found nothing for the weighted tag")
	}
	if filepath.Base(path) != "megumin_v1.safetensors" {
		t.Errorf("resolveLora = %q, want megumin_v1.safetensors", path)
	}
}

func TestResolveLoraNeutralStrengthTag(t *testing.T) {
	r, chars := newTestRunner(t)

	sel := chars.Select("megumin (konosuba)", 1.0, false, false)
	path, ok := r.resolveLora(sel.Tag, false)
	if !ok {
		t.Fatal("resolveLora found nothing for the unweighted tag")
	}
	if filepath.Base(path) != "megumin_v1.safetensors" {
		t.Errorf("resolveLora = %q, want megumin_v1.safetensors", path)
	}
}

func TestResolveLoraPlainFilename(t *testing.T) {
	r, _ := newTestRunner(t)

	path, ok := r.resolveLora("Megumin_v1.safetensors", false)
	if !ok {
		t.Fatal("resolveLora found nothing for an on-disk filename")
	}
	if path != filepath.FromSlash("characters/megumin_v1.safetensors") {
		t.Errorf("resolveLora = %q", path)
	}
}
