package statestore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) {
	t.Helper()
	Init(filepath.Join(t.TempDir(), "state.db"))
	t.Cleanup(Close)
}

func TestPutGetRoundTrip(t *testing.T) {
	openTestStore(t)

	if err := PutString("choice:seed", "1234"); err != nil {
		t.Fatalf("PutString returned error: %v", err)
	}
	got, err := Get("choice:seed")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(got) != "1234" {
		t.Errorf("Get = %q, want %q", got, "1234")
	}
}

func TestBoolFlag(t *testing.T) {
	openTestStore(t)

	if GetBool("random_character_chosen") {
		t.Error("absent flag reads true")
	}
	if err := PutBool("random_character_chosen", true); err != nil {
		t.Fatalf("PutBool returned error: %v", err)
	}
	if !GetBool("random_character_chosen") {
		t.Error("flag did not read back true")
	}
}

func TestHasAndDelete(t *testing.T) {
	openTestStore(t)

	if err := PutInt("n", 7); err != nil {
		t.Fatal(err)
	}
	if !Has("n") {
		t.Error("Has = false for stored key")
	}
	if err := Delete("n"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if Has("n") {
		t.Error("key survived Delete")
	}
}
