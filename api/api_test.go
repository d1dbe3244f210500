package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sn0w/characters"
	"sn0w/config"
	"sn0w/lora"
	"sn0w/relay"
	"sn0w/settings"
)

func newTestServer(t *testing.T, settingsBody string) (*httptest.Server, *relay.Holder) {
	t.Helper()

	base := t.TempDir()
	dir := filepath.Join(base, "user", "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "comfy.settings.json"), []byte(settingsBody), 0o644); err != nil {
		t.Fatal(err)
	}

	holder := relay.New(5 * time.Millisecond)
	srv := NewServer(holder, config.New(base), settings.ComfyUiConfig{Url: "localhost", Port: 1}, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, holder
}

func TestMessageEndpointFeedsRelay(t *testing.T) {
	ts, holder := newTestServer(t, `{}`)

	client := NewClient(ts.URL)
	if err := client.PushMessage("12", "3"); err != nil {
		t.Fatalf("PushMessage returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := holder.Wait(ctx, "12")
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if got != "3" {
		t.Errorf("relay got %q, want %q", got, "3")
	}
}

func TestMessageEndpointNumericNodeID(t *testing.T) {
	ts, holder := newTestServer(t, `{}`)

	resp, err := http.Post(ts.URL+"/api/sn0w/message", "application/json",
		strings.NewReader(`{"node_id": 7, "outputs": "ok"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := holder.Wait(ctx, "7")
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if got != "ok" {
		t.Errorf("relay got %q", got)
	}
}

func TestMessageEndpointRejectsBadBody(t *testing.T) {
	ts, _ := newTestServer(t, `{}`)

	resp, err := http.Post(ts.URL+"/api/sn0w/message", "application/json",
		strings.NewReader(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/sn0w/message", "application/json",
		strings.NewReader(`{"outputs": "orphan"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status without node_id = %d, want 400", resp.StatusCode)
	}
}

func TestCancelThroughAPI(t *testing.T) {
	ts, holder := newTestServer(t, `{}`)

	errCh := make(chan error, 1)
	go func() {
		_, err := holder.Wait(context.Background(), "55")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := NewClient(ts.URL).Cancel(); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, relay.ErrCancelled) {
			t.Errorf("Wait returned %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe cancellation")
	}
}

func TestReloadSettings(t *testing.T) {
	ts, _ := newTestServer(t, `{"sn0w.LoggingLevel": ["DEBUG"]}`)

	if err := NewClient(ts.URL).ReloadSettings(); err != nil {
		t.Fatalf("ReloadSettings returned error: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, holder := newTestServer(t, `{}`)
	holder.Add("1", "pending")

	status, err := NewClient(ts.URL).Status()
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status["uptime"] == nil {
		t.Error("status missing uptime")
	}
	if got, ok := status["pending_messages"].(float64); !ok || got != 1 {
		t.Errorf("pending_messages = %v", status["pending_messages"])
	}
	// No ComfyUI behind this test server, the stats lookup degrades to an
	// error field rather than failing the request.
	if status["comfy_error"] == nil && status["comfy_devices"] == nil {
		t.Error("status reports neither comfy devices nor a comfy error")
	}
}

func newListTestServer(t *testing.T, settingsBody string) *httptest.Server {
	t.Helper()

	base := t.TempDir()
	dir := filepath.Join(base, "user", "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "comfy.settings.json"), []byte(settingsBody), 0o644); err != nil {
		t.Fatal(err)
	}
	reader := config.New(base)

	loraDir := t.TempDir()
	for _, file := range []string{"aqua_v1.safetensors", "megumin_v1.safetensors"} {
		if err := os.WriteFile(filepath.Join(loraDir, file), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	finder := lora.NewFinder(settings.LoraConfig{Sd15Dirs: []string{loraDir}}, reader)

	catalog := `[
		{"name": "aqua (konosuba)", "associated_string": "aqua", "prompt": "blue hair"},
		{"name": "megumin (konosuba)", "associated_string": "megumin", "prompt": "red eyes"}
	]`
	catalogPath := filepath.Join(t.TempDir(), "characters.json")
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	chars, err := characters.Load(catalogPath, "", reader)
	if err != nil {
		t.Fatal(err)
	}

	workflowDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workflowDir, "lora_test.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(relay.New(5*time.Millisecond), reader,
		settings.ComfyUiConfig{Url: "localhost", Port: 1, WorkflowDir: workflowDir}, chars, finder, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestCharacterListEndpoint(t *testing.T) {
	ts := newListTestServer(t, `{"sn0w.FavouriteCharacters": ["megumin"]}`)

	names, err := NewClient(ts.URL).Characters()
	if err != nil {
		t.Fatalf("Characters returned error: %v", err)
	}
	want := []string{"None", "megumin (konosuba)", "aqua (konosuba)"}
	if len(names) != len(want) {
		t.Fatalf("Characters = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Characters[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestLoraListEndpoint(t *testing.T) {
	ts := newListTestServer(t, `{"sn0w.FavouriteLoras": ["megumin"]}`)

	loras, err := NewClient(ts.URL).Loras("15")
	if err != nil {
		t.Fatalf("Loras returned error: %v", err)
	}
	want := []string{"None", "megumin_v1.safetensors", "aqua_v1.safetensors"}
	if len(loras) != len(want) {
		t.Fatalf("Loras = %v, want %v", loras, want)
	}
	for i := range want {
		if loras[i] != want[i] {
			t.Errorf("Loras[%d] = %q, want %q", i, loras[i], want[i])
		}
	}
}

func TestWorkflowListEndpoint(t *testing.T) {
	ts := newListTestServer(t, `{}`)

	flows, err := NewClient(ts.URL).Workflows()
	if err != nil {
		t.Fatalf("Workflows returned error: %v", err)
	}
	if len(flows) != 1 || flows[0] != "lora_test" {
		t.Errorf("Workflows = %v, want [lora_test]", flows)
	}
}

func TestPromptHistoryEndpointEmpty(t *testing.T) {
	ts, _ := newTestServer(t, `{}`)

	resp, err := http.Get(ts.URL + "/api/sn0w/prompt_history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var history []map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %v, want empty", history)
	}
}

func TestGenerateWithoutRunner(t *testing.T) {
	ts, _ := newTestServer(t, `{}`)

	resp, err := http.Post(ts.URL+"/api/sn0w/generate", "application/json",
		strings.NewReader(`{"workflow": "lora_test"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{`"12"`, "12", false},
		{`7`, "7", false},
		{`-1`, "-1", false},
		{`true`, "", true},
		{``, "", true},
	}
	for _, c := range cases {
		got, err := normalizeID([]byte(c.raw))
		if c.wantErr {
			if err == nil {
				t.Errorf("normalizeID(%q) accepted", c.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeID(%q) returned error: %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("normalizeID(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}
