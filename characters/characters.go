// Package characters loads the character prompt catalog and resolves a
// character pick into the prompt fragments a workflow needs.
package characters

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"sn0w/config"
	"sn0w/logger"
)

// Character is one entry of characters.json.
type Character struct {
	Name             string `json:"name"`
	AssociatedString string `json:"associated_string"`
	Prompt           string `json:"prompt"`
}

// Selection is the resolved output of a character pick.
type Selection struct {
	Tag    string // weighted tag fragment, e.g. "(name:1.5), "
	Prompt string // character prompt, empty unless requested
	Xl     bool
}

// Store holds the merged catalog. The sorted name list is rebuilt whenever
// the sn0w.SortBySeries setting flips, matching the frontend dropdown order.
type Store struct {
	cfg *config.Reader

	mu           sync.Mutex
	byName       map[string]Character
	sorted       []string
	sortBySeries bool
}

// Load reads the main catalog and merges the optional custom catalog into
// it. A custom entry with a known name appends to that character's prompt; an
// unknown name adds a new character.
func Load(path, customPath string, cfg *config.Reader) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read character file %s: %w", path, err)
	}
	var catalog []Character
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("error parsing character file %s: %w", path, err)
	}

	if customPath != "" {
		if customData, err := os.ReadFile(customPath); err == nil {
			var custom []Character
			if err := json.Unmarshal(customData, &custom); err != nil {
				return nil, fmt.Errorf("error parsing custom character file %s: %w", customPath, err)
			}
			catalog = merge(catalog, custom)
		}
	}

	s := &Store{
		cfg:    cfg,
		byName: make(map[string]Character, len(catalog)),
	}
	for _, c := range catalog {
		s.byName[c.Name] = c
	}
	s.sortBySeries = cfg.GetBool("sn0w.SortBySeries", false)
	s.resort()
	logger.Info("Character catalog loaded", "characters", len(s.byName))
	return s, nil
}

func merge(catalog, custom []Character) []Character {
	for _, cc := range custom {
		found := false
		for i, c := range catalog {
			if c.Name == cc.Name {
				catalog[i].Prompt = c.Prompt + ", " + cc.Prompt
				found = true
				break
			}
		}
		if !found {
			catalog = append(catalog, cc)
		}
	}
	return catalog
}

// seriesName extracts the series from a character name, the text inside the
// trailing parentheses: "megumin (konosuba)" -> "konosuba".
func seriesName(name string) string {
	parts := strings.Split(name, "(")
	last := parts[len(parts)-1]
	return strings.TrimSpace(strings.SplitN(last, ")", 2)[0])
}

func (s *Store) resort() {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	if s.sortBySeries {
		sort.Slice(names, func(i, j int) bool {
			si, sj := seriesName(names[i]), seriesName(names[j])
			if si != sj {
				return si < sj
			}
			return names[i] < names[j]
		})
	} else {
		sort.Strings(names)
	}
	s.sorted = names
}

// Names returns "None" followed by the catalog names in display order,
// re-sorting first if the sort setting changed since the last call.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.cfg.GetBool("sn0w.SortBySeries", false)
	if current != s.sortBySeries {
		logger.Debug("Sorting characters", "by_series", current)
		s.sortBySeries = current
		s.resort()
	}
	return append([]string{"None"}, s.sorted...)
}

// Get looks up a character by name.
func (s *Store) Get(name string) (Character, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byName[name]
	return c, ok
}

// Random picks a random character from the catalog.
func (s *Store) Random() Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.sorted[rand.Intn(len(s.sorted))]
	c := s.byName[name]
	logger.Info("Random Character: " + c.Name)
	return c
}

// Select resolves a character pick into prompt fragments. Name "None" or an
// unknown name yields an empty selection. The strength suffix is omitted at
// the neutral 1.0.
func (s *Store) Select(name string, strength float64, includePrompt, xl bool) Selection {
	if name == "None" {
		return Selection{}
	}
	c, ok := s.Get(name)
	if !ok {
		return Selection{}
	}
	return s.selection(c, strength, includePrompt, xl)
}

func (s *Store) selection(c Character, strength float64, includePrompt, xl bool) Selection {
	sel := Selection{Xl: xl}
	if includePrompt {
		sel.Prompt = c.Prompt
	}
	if c.AssociatedString == "" {
		return sel
	}
	strengthPart := ""
	if strength != 1 {
		strengthPart = ":" + strconv.FormatFloat(strength, 'g', -1, 64)
	}
	sel.Tag = fmt.Sprintf("(%s%s), ", c.AssociatedString, strengthPart)
	return sel
}

// SelectRandom resolves a random character pick.
func (s *Store) SelectRandom(strength float64, includePrompt, xl bool) Selection {
	return s.selection(s.Random(), strength, includePrompt, xl)
}

// FindByTag matches a cleaned prompt tag against the catalog's associated
// strings. cleaner normalizes both sides before comparison.
func (s *Store) FindByTag(tag string, cleaner func(string) string) (Character, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := cleaner(tag)
	for _, name := range s.sorted {
		c := s.byName[name]
		if cleaner(c.AssociatedString) == cleaned {
			return c, true
		}
	}
	return Character{}, false
}

// PutFavouritesOnTop reorders items so entries matching any favourite listed
// under settingKey come first, in their original relative order.
func (s *Store) PutFavouritesOnTop(settingKey string, items []string) []string {
	return s.cfg.FavouritesOnTop(settingKey, items)
}
