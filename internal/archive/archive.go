// Package archive builds the release and docs tarballs that get uploaded
// to the registry, and enforces the docs-tree safety checks that must pass
// before any network call.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/anvilworks/anvil/internal/core/models"
	"github.com/anvilworks/anvil/internal/util/hashing"
)

// InvalidDocsTreeError reports a docs tree whose top level contains a name
// that parses as a semantic version. Such a name would shadow the
// version-scoped documentation URLs the registry serves.
type InvalidDocsTreeError struct {
	Name string
}

func (e *InvalidDocsTreeError) Error() string {
	return fmt.Sprintf("invalid docs tree: top-level entry %q is a semantic version and would shadow versioned documentation", e.Name)
}

// Entries are written sorted with normalized headers so rebuilding
// identical inputs yields an identical checksum.
var normalizedTime = time.Unix(0, 0).UTC()

// BuildRelease produces the release tarball from build metadata. The
// checksum covers the exact compressed bytes that would be transmitted.
func BuildRelease(meta *models.BuildMetadata) (*models.ArchiveArtifact, error) {
	files := make([]models.PackageFile, len(meta.Files))
	copy(files, meta.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return build(files)
}

// BuildDocs walks every regular file under docRoot and produces the docs
// tarball with paths relative to docRoot. It fails before building
// anything when index.html is missing at the top level or when any
// top-level name parses as a semantic version.
func BuildDocs(docRoot string) (*models.ArchiveArtifact, error) {
	var files []models.PackageFile
	err := filepath.WalkDir(docRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(docRoot, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, models.PackageFile{Path: filepath.ToSlash(rel), Data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking docs tree: %w", err)
	}

	if err := checkDocsTree(docRoot, files); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return build(files)
}

// ResolveDocsDir locates the generated documentation under base: a
// directory literally named "doc" is preferred, then "docs".
func ResolveDocsDir(base string) (string, error) {
	for _, name := range []string{"doc", "docs"} {
		path := filepath.Join(base, name)
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no doc or docs directory found under %s", base)
}

func checkDocsTree(docRoot string, files []models.PackageFile) error {
	hasIndex := false
	for _, f := range files {
		top, rest, _ := strings.Cut(f.Path, "/")
		if rest == "" && top == "index.html" {
			hasIndex = true
		}
		if isSemverName(top) {
			return &InvalidDocsTreeError{Name: top}
		}
	}
	if !hasIndex {
		return fmt.Errorf("docs directory %s has no index.html", docRoot)
	}
	return nil
}

// isSemverName reports whether name fully parses as a strict semantic
// version (major.minor.patch with optional pre-release/build metadata).
func isSemverName(name string) bool {
	_, err := semver.StrictNewVersion(name)
	return err == nil
}

func build(files []models.PackageFile) (*models.ArchiveArtifact, error) {
	var buf bytes.Buffer
	hw := hashing.NewWriter(&buf)
	gz := gzip.NewWriter(hw)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		hdr := &tar.Header{
			Name:    f.Path,
			Mode:    0o644,
			Size:    int64(len(f.Data)),
			ModTime: normalizedTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing archive header for %s: %w", f.Path, err)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, fmt.Errorf("writing archive entry %s: %w", f.Path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}

	return &models.ArchiveArtifact{
		Bytes:    buf.Bytes(),
		Checksum: hw.Sum(),
	}, nil
}
