// Package store implements the local document index: SQLite-backed
// chunk storage with JSON-serialized embeddings, metadata dedup lookups,
// similarity search, and per-thread session checkpoints.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"finsight/internal/embedding"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// Store is the shared document index. It is append-mostly: chunks are
// inserted by the retrieval orchestrator and read by the sufficiency
// gate and synthesizer.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	engine    embedding.Engine
	vectorExt bool
}

// Open initializes the SQLite database at the given path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening document store at %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using in-process cosine scan")
	}

	return s, nil
}

// SetEmbeddingEngine wires the embedding backend. Without one, chunks
// are stored without embeddings and similarity search degrades to a
// keyword scan.
func (s *Store) SetEmbeddingEngine(e embedding.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS document_chunks (
		chunk_id   TEXT PRIMARY KEY,
		doc_id     TEXT NOT NULL,
		company    TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		doc_type   TEXT NOT NULL,
		year       TEXT NOT NULL DEFAULT '',
		month      TEXT NOT NULL DEFAULT '',
		seq        INTEGER NOT NULL,
		content    TEXT NOT NULL,
		embedding  TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_dedup
		ON document_chunks(symbol, doc_type, year, month);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc
		ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS session_state (
		thread_id  TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available (registered via the sqlite_vec build tag).
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}
}

// Exists reports whether any chunk matches the dedup key. Empty year or
// month leaves that column unconstrained.
func (s *Store) Exists(symbol string, docType types.DocType, year, month string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT COUNT(*) FROM document_chunks WHERE symbol = ? AND doc_type = ?"
	args := []interface{}{symbol, string(docType)}
	if year != "" {
		query += " AND year = ?"
		args = append(args, year)
	}
	if month != "" {
		query += " AND month = ?"
		args = append(args, month)
	}

	var count int64
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	logging.StoreDebug("Exists(%s, %s, %q, %q) = %v", symbol, docType, year, month, count > 0)
	return count > 0, nil
}

// ListDocuments returns one descriptor per distinct indexed document.
func (s *Store) ListDocuments() ([]types.DocumentDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT doc_id, company, symbol, doc_type, year, month, COUNT(*)
		FROM document_chunks
		GROUP BY doc_id
		ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []types.DocumentDescriptor
	for rows.Next() {
		var d types.DocumentDescriptor
		var docID, docType string
		if err := rows.Scan(&docID, &d.Company, &d.Symbol, &docType, &d.Year, &d.Month, &d.Chunks); err != nil {
			return nil, err
		}
		d.DocType = types.DocType(docType)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Stats returns chunk and document counts.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	var chunks, docs int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM document_chunks").Scan(&chunks); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(DISTINCT doc_id) FROM document_chunks").Scan(&docs); err != nil {
		return nil, err
	}
	var sessions int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM session_state").Scan(&sessions); err != nil {
		return nil, err
	}
	stats["chunks"] = chunks
	stats["documents"] = docs
	stats["sessions"] = sessions
	return stats, nil
}
