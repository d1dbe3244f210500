// Package lora lists LoRA files on disk and fuzzy-matches character names to
// them.
package lora

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sn0w/config"
	"sn0w/fuzzy"
	"sn0w/logger"
	"sn0w/settings"
)

// Kind selects which directory set to list.
type Kind string

const (
	KindAll  Kind = "loras"
	KindXl   Kind = "loras_xl"
	KindSd15 Kind = "loras_15"
)

var loraExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
}

// Finder lists lora files from the configured directory sets and resolves
// character names to the closest matching file.
type Finder struct {
	cfg  *config.Reader
	dirs map[Kind][]string
}

// NewFinder builds a Finder over the configured lora directories. KindAll is
// the union of the dedicated sets plus any extra shared dirs.
func NewFinder(loraCfg settings.LoraConfig, cfg *config.Reader) *Finder {
	all := make([]string, 0, len(loraCfg.Dirs)+len(loraCfg.XlDirs)+len(loraCfg.Sd15Dirs))
	all = append(all, loraCfg.Dirs...)
	all = append(all, loraCfg.XlDirs...)
	all = append(all, loraCfg.Sd15Dirs...)

	return &Finder{
		cfg: cfg,
		dirs: map[Kind][]string{
			KindAll:  all,
			KindXl:   loraCfg.XlDirs,
			KindSd15: loraCfg.Sd15Dirs,
		},
	}
}

// List returns the relative paths of all lora files for kind, sorted
// case-insensitively by path segment, with excluded folders dropped. The
// exclusion list comes from the comfy settings file so the frontend can edit
// it live.
func (f *Finder) List(kind Kind) []string {
	var files []string
	for _, dir := range f.dirs[kind] {
		files = append(files, listDir(dir)...)
	}

	sort.Slice(files, func(i, j int) bool {
		return comparePathParts(files[i], files[j])
	})

	excluded := f.excludedFolders()
	if len(excluded) == 0 {
		return files
	}

	filtered := files[:0]
	for _, file := range files {
		if !underExcludedFolder(file, excluded) {
			filtered = append(filtered, file)
		}
	}
	return filtered
}

func listDir(dir string) []string {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !loraExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		logger.Error("Failed to list lora directory", "dir", dir, "error", err)
	}
	return files
}

func comparePathParts(a, b string) bool {
	ap := strings.Split(strings.ToLower(a), string(filepath.Separator))
	bp := strings.Split(strings.ToLower(b), string(filepath.Separator))
	for i := 0; i < len(ap) && i < len(bp); i++ {
		if ap[i] != bp[i] {
			return ap[i] < bp[i]
		}
	}
	return len(ap) < len(bp)
}

func (f *Finder) excludedFolders() []string {
	raw := f.cfg.Get("sn0w.ExcludedLoraFolders", "")
	if raw == "" {
		return nil
	}
	var folders []string
	for _, folder := range strings.Split(raw, ",") {
		folder = strings.ToLower(strings.TrimSpace(folder))
		if folder != "" {
			folders = append(folders, folder)
		}
	}
	return folders
}

func underExcludedFolder(file string, excluded []string) bool {
	for _, part := range strings.Split(strings.ToLower(file), string(filepath.Separator)) {
		for _, folder := range excluded {
			if strings.Contains(part, folder) {
				return true
			}
		}
	}
	return false
}

// Resolve maps a bare filename back to its full relative path within kind.
func (f *Finder) Resolve(name string, kind Kind) (string, bool) {
	lower := strings.ToLower(name)
	for _, path := range f.List(kind) {
		if strings.Contains(strings.ToLower(path), lower) {
			return path, true
		}
	}
	return "", false
}

// FindCharacterLora finds the lora file closest to a character name. Only
// filenames sharing at least one word with the name are scored; the score is
// the smaller of the whole-name distance and the best per-word distance.
func (f *Finder) FindCharacterLora(characterName string, xl bool) (string, bool) {
	kind := KindSd15
	if xl {
		kind = KindXl
	}

	nameLower := strings.ToLower(characterName)
	nameParts := strings.Fields(nameLower)

	closest := ""
	lowest := -1
	for _, path := range f.List(kind) {
		filename := filepath.Base(path)
		stem := strings.TrimSuffix(strings.ToLower(filename), filepath.Ext(filename))

		shared := false
		for _, part := range nameParts {
			if strings.Contains(stem, part) {
				shared = true
				break
			}
		}
		if !shared {
			continue
		}

		fullDistance := fuzzy.Distance(nameLower, stem)
		partsDistance := fullDistance
		for _, part := range nameParts {
			if d := fuzzy.Distance(part, stem); d < partsDistance {
				partsDistance = d
			}
		}

		total := fullDistance
		if partsDistance < total {
			total = partsDistance
			logger.Debug("Part name distance", "distance", partsDistance, "lora", filename, "name", characterName)
		} else {
			logger.Debug("Full name distance", "distance", fullDistance, "lora", filename, "name", characterName)
		}

		if lowest == -1 || total < lowest {
			lowest = total
			closest = filename
		}
	}

	if closest == "" {
		logger.Info("No matching lora found for the character", "character", characterName)
		return "", false
	}
	return f.Resolve(closest, KindAll)
}
