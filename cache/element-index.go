package cache

import (
	"database/sql"
	"sort"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmgilman/go/errors"

	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

// ElementIndex records which content elements contributed to which cached pages.
//
// Implementations must be thread-safe!
type ElementIndex interface {
	// Record adds a dependency. Recording an existing pair is a no-op.
	Record(elementID int64, siteURI siteuri.SiteURI) error
	// URIs returns the pages that depend on the element.
	URIs(elementID int64) ([]siteuri.SiteURI, error)
	// ClearAndReturnURIs returns the pages that depend on the element and
	// removes every record (of any element) pointing at those pages.
	ClearAndReturnURIs(elementID int64) ([]siteuri.SiteURI, error)
	// Clear removes all records.
	Clear() error
}

type SQLiteIndex struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteIndex opens the index with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteIndex(filename string) (SQLiteIndex, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteIndex{}, errors.Wrap(err, errors.CodeDatabase, "failed to open element index")
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS element_cache (
		element_id INTEGER NOT NULL,
		site_id INTEGER NOT NULL,
		uri TEXT NOT NULL,
		PRIMARY KEY (element_id, site_id, uri)
	)`)
	if err != nil {
		db.Close()
		return SQLiteIndex{}, errors.Wrap(err, errors.CodeDatabase, "failed to create element index table")
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS site_uri_idx ON element_cache (site_id, uri)")
	if err != nil {
		db.Close()
		return SQLiteIndex{}, errors.Wrap(err, errors.CodeDatabase, "failed to create element index")
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return SQLiteIndex{}, errors.Wrap(err, errors.CodeDatabase, "failed to enable WAL")
	}
	return SQLiteIndex{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s SQLiteIndex) Record(elementID int64, siteURI siteuri.SiteURI) error {
	siteURI = siteuri.New(siteURI.SiteID, siteURI.URI)
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO element_cache (element_id, site_id, uri) VALUES (?, ?, ?)",
		elementID, siteURI.SiteID, siteURI.URI)
	return errors.Wrap(err, errors.CodeDatabase, "failed to record element dependency")
}

func (s SQLiteIndex) URIs(elementID int64) ([]siteuri.SiteURI, error) {
	rows, err := s.db.Query(
		"SELECT site_id, uri FROM element_cache WHERE element_id = ? ORDER BY site_id, uri", elementID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to query element dependencies")
	}
	defer rows.Close()

	uris := make([]siteuri.SiteURI, 0)
	for rows.Next() {
		var siteURI siteuri.SiteURI
		if err := rows.Scan(&siteURI.SiteID, &siteURI.URI); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "failed to scan element dependency")
		}
		uris = append(uris, siteURI)
	}
	return uris, errors.Wrap(rows.Err(), errors.CodeDatabase, "failed to read element dependencies")
}

func (s SQLiteIndex) ClearAndReturnURIs(elementID int64) ([]siteuri.SiteURI, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	uris, err := s.URIs(elementID)
	if err != nil || len(uris) == 0 {
		return uris, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to begin transaction")
	}
	for _, siteURI := range uris {
		if _, err := tx.Exec("DELETE FROM element_cache WHERE site_id = ? AND uri = ?",
			siteURI.SiteID, siteURI.URI); err != nil {
			tx.Rollback()
			return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to clear dependencies of %s", siteURI)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to commit element index")
	}
	return uris, nil
}

func (s SQLiteIndex) Clear() error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM element_cache")
	return errors.Wrap(err, errors.CodeDatabase, "failed to clear element index")
}

// MemIndex is an ElementIndex kept in memory.
type MemIndex struct {
	mu      sync.Mutex
	records map[int64]map[siteuri.SiteURI]struct{}
}

func NewMemIndex() *MemIndex {
	return &MemIndex{records: make(map[int64]map[siteuri.SiteURI]struct{})}
}

func (m *MemIndex) Record(elementID int64, siteURI siteuri.SiteURI) error {
	siteURI = siteuri.New(siteURI.SiteID, siteURI.URI)
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.records[elementID]
	if !ok {
		set = make(map[siteuri.SiteURI]struct{})
		m.records[elementID] = set
	}
	set[siteURI] = struct{}{}
	return nil
}

func (m *MemIndex) URIs(elementID int64) ([]siteuri.SiteURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uris(elementID), nil
}

func (m *MemIndex) uris(elementID int64) []siteuri.SiteURI {
	uris := make([]siteuri.SiteURI, 0, len(m.records[elementID]))
	for siteURI := range m.records[elementID] {
		uris = append(uris, siteURI)
	}
	sort.Slice(uris, func(i, j int) bool {
		if uris[i].SiteID != uris[j].SiteID {
			return uris[i].SiteID < uris[j].SiteID
		}
		return uris[i].URI < uris[j].URI
	})
	return uris
}

func (m *MemIndex) ClearAndReturnURIs(elementID int64) ([]siteuri.SiteURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uris := m.uris(elementID)
	for id, set := range m.records {
		for _, siteURI := range uris {
			delete(set, siteURI)
		}
		if len(set) == 0 {
			delete(m.records, id)
		}
	}
	return uris, nil
}

func (m *MemIndex) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[int64]map[siteuri.SiteURI]struct{})
	return nil
}
