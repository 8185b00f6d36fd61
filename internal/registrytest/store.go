package registrytest

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anvilworks/anvil/internal/util/hashing"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("conflict")
)

// Release is the stored view of one published release.
type Release struct {
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	PublishedAt time.Time `json:"published_at"`
}

// PackageInfo is what the get-package endpoint answers.
type PackageInfo struct {
	Repo     string    `json:"repo,omitempty"`
	Name     string    `json:"name"`
	Releases []Release `json:"releases"`
	Owners   []string  `json:"owners"`
}

// store keeps registry state in SQLite, one database per test server.
type store struct {
	db *sql.DB
}

func newStore(dataDir string) (*store, error) {
	dsn := dataDir + "/registrytest.db?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS packages (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			repo TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE(repo, name)
		);
		CREATE TABLE IF NOT EXISTS releases (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			package_id   INTEGER NOT NULL,
			version      TEXT NOT NULL,
			checksum     TEXT NOT NULL,
			size         INTEGER NOT NULL,
			data         BLOB NOT NULL,
			published_at DATETIME NOT NULL,
			UNIQUE(package_id, version),
			FOREIGN KEY (package_id) REFERENCES packages(id)
		);
		CREATE TABLE IF NOT EXISTS docs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			release_id INTEGER NOT NULL UNIQUE,
			data       BLOB NOT NULL,
			FOREIGN KEY (release_id) REFERENCES releases(id)
		);
		CREATE TABLE IF NOT EXISTS owners (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			package_id INTEGER NOT NULL,
			owner      TEXT NOT NULL,
			level      TEXT NOT NULL,
			UNIQUE(package_id, owner),
			FOREIGN KEY (package_id) REFERENCES packages(id)
		);
	`)
	return err
}

func (s *store) packageID(repo, name string, create bool) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM packages WHERE repo = ? AND name = ?", repo, name).Scan(&id)
	if err == sql.ErrNoRows {
		if !create {
			return 0, errNotFound
		}
		result, err := s.db.Exec("INSERT INTO packages (repo, name) VALUES (?, ?)", repo, name)
		if err != nil {
			return 0, fmt.Errorf("creating package: %w", err)
		}
		return result.LastInsertId()
	}
	if err != nil {
		return 0, fmt.Errorf("getting package id: %w", err)
	}
	return id, nil
}

// createRelease stores a release, rejecting duplicates unless replace is
// set, in which case the existing row is overwritten.
func (s *store) createRelease(repo, name, version string, data []byte, replace bool) (*Release, error) {
	pkgID, err := s.packageID(repo, name, true)
	if err != nil {
		return nil, err
	}

	checksum, size, err := hashing.ComputeSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	query := "INSERT INTO releases (package_id, version, checksum, size, data, published_at) VALUES (?, ?, ?, ?, ?, ?)"
	if replace {
		query = "INSERT OR REPLACE INTO releases (package_id, version, checksum, size, data, published_at) VALUES (?, ?, ?, ?, ?, ?)"
	}
	if _, err := s.db.Exec(query, pkgID, version, checksum, size, data, now); err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: release %s@%s already published", errConflict, name, version)
		}
		return nil, fmt.Errorf("creating release: %w", err)
	}

	return &Release{Version: version, Checksum: checksum, Size: size, PublishedAt: now}, nil
}

func (s *store) releaseID(repo, name, version string) (int64, error) {
	pkgID, err := s.packageID(repo, name, false)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow("SELECT id FROM releases WHERE package_id = ? AND version = ?", pkgID, version).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, errNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("getting release: %w", err)
	}
	return id, nil
}

func (s *store) deleteRelease(repo, name, version string) error {
	id, err := s.releaseID(repo, name, version)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM docs WHERE release_id = ?", id); err != nil {
		return fmt.Errorf("deleting release docs: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM releases WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting release: %w", err)
	}
	return nil
}

// putDocs attaches a docs archive to an already-published release.
func (s *store) putDocs(repo, name, version string, data []byte) error {
	id, err := s.releaseID(repo, name, version)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("INSERT OR REPLACE INTO docs (release_id, data) VALUES (?, ?)", id, data); err != nil {
		return fmt.Errorf("storing docs: %w", err)
	}
	return nil
}

func (s *store) deleteDocs(repo, name, version string) error {
	id, err := s.releaseID(repo, name, version)
	if err != nil {
		return err
	}
	result, err := s.db.Exec("DELETE FROM docs WHERE release_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting docs: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

func (s *store) getPackage(repo, name string) (*PackageInfo, error) {
	pkgID, err := s.packageID(repo, name, false)
	if err != nil {
		return nil, err
	}

	info := &PackageInfo{Repo: repo, Name: name, Releases: []Release{}, Owners: []string{}}

	rows, err := s.db.Query("SELECT version, checksum, size, published_at FROM releases WHERE package_id = ? ORDER BY published_at DESC", pkgID)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rel Release
		if err := rows.Scan(&rel.Version, &rel.Checksum, &rel.Size, &rel.PublishedAt); err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		info.Releases = append(info.Releases, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	owners, err := s.db.Query("SELECT owner FROM owners WHERE package_id = ? ORDER BY owner", pkgID)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	defer owners.Close()
	for owners.Next() {
		var o string
		if err := owners.Scan(&o); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		info.Owners = append(info.Owners, o)
	}
	return info, owners.Err()
}

// setOwner grants ownership; with transfer set the grantee replaces every
// current owner.
func (s *store) setOwner(repo, name, owner, level string, transfer bool) error {
	pkgID, err := s.packageID(repo, name, false)
	if err != nil {
		return err
	}
	if transfer {
		if _, err := s.db.Exec("DELETE FROM owners WHERE package_id = ?", pkgID); err != nil {
			return fmt.Errorf("clearing owners: %w", err)
		}
	}
	if _, err := s.db.Exec("INSERT OR REPLACE INTO owners (package_id, owner, level) VALUES (?, ?, ?)", pkgID, owner, level); err != nil {
		return fmt.Errorf("adding owner: %w", err)
	}
	return nil
}

func (s *store) close() error {
	return s.db.Close()
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
