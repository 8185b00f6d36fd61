// Package manifest loads the package.yaml manifest and collects the file
// set that goes into a release archive.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/anvilworks/anvil/internal/core/models"
)

// FileName is the manifest file expected at the package root.
const FileName = "package.yaml"

type Manifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	Licenses    []string          `yaml:"licenses"`
	Files       []string          `yaml:"files"`
	ExcludeDeps []string          `yaml:"excludeDeps"`
	Extra       map[string]string `yaml:"extra"`
}

// Load reads and validates the manifest in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("%s: name must not be empty", FileName)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("%s: version must not be empty", FileName)
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return nil, fmt.Errorf("%s: version %q is not a semantic version: %w", FileName, m.Version, err)
	}
	if len(m.Files) == 0 {
		m.Files = []string{"src/**", "README*", "LICENSE*"}
	}

	return &m, nil
}

// BuildMetadata expands the manifest's file globs relative to dir, reads
// every matched regular file and returns the immutable build metadata for
// this invocation. The manifest itself is always included.
func (m *Manifest) BuildMetadata(dir string) (*models.BuildMetadata, error) {
	seen := map[string]bool{FileName: true}
	paths := []string{FileName}

	for _, pattern := range m.Files {
		matches, err := glob(dir, pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding files pattern %q: %w", pattern, err)
		}
		for _, rel := range matches {
			if !seen[rel] {
				seen[rel] = true
				paths = append(paths, rel)
			}
		}
	}
	sort.Strings(paths)

	files := make([]models.PackageFile, 0, len(paths))
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		files = append(files, models.PackageFile{Path: rel, Data: data})
	}

	return &models.BuildMetadata{
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Licenses:     m.Licenses,
		Files:        files,
		ExcludedDeps: m.ExcludeDeps,
		Extra:        m.Extra,
	}, nil
}

// glob matches pattern against dir, returning slash-separated relative
// paths of regular files. A trailing "/**" (or a bare "**" suffix) selects
// the whole subtree.
func glob(dir, pattern string) ([]string, error) {
	var out []string

	// "prefix/**" walks everything under prefix.
	if base, ok := recursiveBase(pattern); ok {
		root := filepath.Join(dir, filepath.FromSlash(base))
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipAll
				}
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
			return nil
		})
		return out, err
	}

	matches, err := filepath.Glob(filepath.Join(dir, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(dir, match)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

func recursiveBase(pattern string) (string, bool) {
	switch {
	case pattern == "**":
		return ".", true
	case len(pattern) > 3 && pattern[len(pattern)-3:] == "/**":
		return pattern[:len(pattern)-3], true
	default:
		return "", false
	}
}
