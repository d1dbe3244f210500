// Package config reads the host ComfyUI settings file
// (user/default/comfy.settings.json) without going through the host API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sn0w/logger"
)

const settingsRelPath = "user/default/comfy.settings.json"

// Reader resolves and reads a comfy settings file. The install layout
// (standalone vs portable) is probed once at construction; the file itself is
// re-read on every Get so frontend edits are picked up without a restart.
type Reader struct {
	path string
}

// New probes the two candidate install layouts under baseDir and returns a
// Reader bound to whichever settings file exists. If neither exists the
// Reader still works, degrading every lookup to its default.
func New(baseDir string) *Reader {
	standalone := filepath.Join(baseDir, settingsRelPath)
	portable := filepath.Join(baseDir, "ComfyUI", settingsRelPath)

	if _, err := os.Stat(standalone); err == nil {
		logger.Info("Running standalone comfy", "settings", standalone)
		return &Reader{path: standalone}
	}
	if _, err := os.Stat(portable); err == nil {
		logger.Info("Running portable comfy", "settings", portable)
		return &Reader{path: portable}
	}

	logger.Warn("Local configuration file not found at either candidate path",
		"standalone", standalone, "portable", portable)
	return &Reader{}
}

// Path returns the resolved settings file path, or "" when no layout matched.
func (r *Reader) Path() string {
	return r.path
}

func (r *Reader) load() (map[string]json.RawMessage, error) {
	if r.path == "" {
		return nil, fmt.Errorf("no settings file resolved")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("could not read settings file %s: %w", r.path, err)
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("error decoding JSON from %s: %w", r.path, err)
	}
	return settings, nil
}

// Get retrieves a string setting, falling back to def when the file is
// missing, malformed, or the key is absent. Failures are logged, never
// propagated.
func (r *Reader) Get(key string, def string) string {
	raw, ok := r.lookup(key)
	if !ok {
		return def
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Error("Setting has unexpected type", "key", key, "error", err)
		return def
	}
	return v
}

// GetBool retrieves a boolean setting with the same degradation rules as Get.
func (r *Reader) GetBool(key string, def bool) bool {
	raw, ok := r.lookup(key)
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Error("Setting has unexpected type", "key", key, "error", err)
		return def
	}
	return v
}

// GetStringList retrieves a string-array setting with the same degradation
// rules as Get.
func (r *Reader) GetStringList(key string, def []string) []string {
	raw, ok := r.lookup(key)
	if !ok {
		return def
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Error("Setting has unexpected type", "key", key, "error", err)
		return def
	}
	return v
}

// FavouritesOnTop reorders items so entries matching any favourite listed
// under key come first, in their original relative order. Matching is a
// case-insensitive substring test.
func (r *Reader) FavouritesOnTop(key string, items []string) []string {
	favourites := r.GetStringList(key, nil)
	if len(favourites) == 0 {
		return items
	}

	var prioritized, rest []string
	for _, item := range items {
		matched := false
		for _, fav := range favourites {
			if strings.Contains(strings.ToLower(item), strings.ToLower(fav)) {
				matched = true
				break
			}
		}
		if matched {
			prioritized = append(prioritized, item)
		} else {
			rest = append(rest, item)
		}
	}
	return append(prioritized, rest...)
}

func (r *Reader) lookup(key string) (json.RawMessage, bool) {
	settings, err := r.load()
	if err != nil {
		logger.Warn("Falling back to default setting", "key", key, "error", err)
		return nil, false
	}
	raw, ok := settings[key]
	if !ok {
		return nil, false
	}
	return raw, true
}
