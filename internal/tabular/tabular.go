// Package tabular maintains per-file SQLite caches over CSV workbench files
// so they can be queried with SQL. Each tracked CSV gets its own database
// under meta/tabular/, keyed by a hash of its path, and is rebuilt lazily
// whenever the source file's size or modification time changes.
package tabular

import (
	"crypto/sha256"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wb-go/internal/tabular/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const cacheDirName = "tabular"

// ErrNotTabular is returned when a query targets a file that is not CSV.
var ErrNotTabular = errors.New("file is not tabular")

// Cache builds and queries SQLite databases derived from CSV files.
type Cache struct{}

// NewCache creates a tabular cache.
func NewCache() *Cache { return &Cache{} }

// CacheKey derives the artifact name for a workbench file path. Keys are
// case-insensitive to match path uniqueness rules.
func CacheKey(path string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(path))))
	return hex.EncodeToString(sum[:])
}

// Invalidate removes the cache databases for the given workbench paths.
// Missing artifacts are ignored.
func (c *Cache) Invalidate(metaDir string, paths []string) {
	for _, p := range paths {
		base := filepath.Join(metaDir, cacheDirName, CacheKey(p))
		os.Remove(base + ".db")
		// SQLite sidecar files from interrupted sessions.
		os.Remove(base + ".db-wal")
		os.Remove(base + ".db-shm")
	}
}

// QueryResult holds the outcome of a SQL query over a cached CSV.
type QueryResult struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Query runs a read-only SQL statement against the cache database for the
// CSV at dataDir/relPath, rebuilding the cache first if it is missing or
// stale. The CSV is exposed as a table named "data" with TEXT columns
// derived from its header row.
func (c *Cache) Query(metaDir, dataDir, relPath, query string) (*QueryResult, error) {
	if !strings.EqualFold(filepath.Ext(relPath), ".csv") {
		return nil, fmt.Errorf("%w: %s", ErrNotTabular, relPath)
	}
	dbPath, err := c.ensure(metaDir, dataDir, relPath)
	if err != nil {
		return nil, err
	}
	db, err := openCacheDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", relPath, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Columns: cols}
	values := make([]sql.NullString, len(cols))
	scan := make([]any, len(cols))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = v.String
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ensure returns the path of a fresh cache database for the source CSV,
// rebuilding it when absent or out of date.
func (c *Cache) ensure(metaDir, dataDir, relPath string) (string, error) {
	sourcePath := filepath.Join(dataDir, relPath)
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", err
	}
	modifiedAt := info.ModTime().UTC().Format(time.RFC3339)

	dbPath := filepath.Join(metaDir, cacheDirName, CacheKey(relPath)+".db")
	if fresh, err := c.isFresh(dbPath, info.Size(), modifiedAt); err == nil && fresh {
		return dbPath, nil
	}

	if err := c.build(dbPath, sourcePath, relPath, info.Size(), modifiedAt); err != nil {
		return "", err
	}
	return dbPath, nil
}

// isFresh reports whether an existing cache database matches the source
// file's size and modification time.
func (c *Cache) isFresh(dbPath string, size int64, modifiedAt string) (bool, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	db, err := openCacheDB(dbPath)
	if err != nil {
		return false, nil
	}
	defer db.Close()

	var gotSize int64
	var gotModified string
	row := db.QueryRow("SELECT source_size, source_modified_at FROM cache_info WHERE id = 1")
	if err := row.Scan(&gotSize, &gotModified); err != nil {
		return false, nil
	}
	return gotSize == size && gotModified == modifiedAt, nil
}

// build creates the cache database from scratch in a temp file and swaps it
// into place, so a partially built cache is never observed.
func (c *Cache) build(dbPath, sourcePath, relPath string, size int64, modifiedAt string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	tmpPath := dbPath + ".building"
	os.Remove(tmpPath)
	defer os.Remove(tmpPath)

	db, err := openCacheDB(tmpPath)
	if err != nil {
		return err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return fmt.Errorf("migrating cache database: %w", err)
	}
	if err := loadCSV(db, sourcePath); err != nil {
		db.Close()
		return fmt.Errorf("loading %s: %w", relPath, err)
	}
	builtAt := time.Now().UTC().Format(time.RFC3339)
	_, err = db.Exec(
		"INSERT INTO cache_info (id, source_path, source_size, source_modified_at, built_at) VALUES (1, ?, ?, ?, ?)",
		relPath, size, modifiedAt, builtAt,
	)
	if err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dbPath)
}

// loadCSV streams the CSV into a table named "data". All columns are TEXT;
// short rows are padded and long rows truncated to the header width.
func loadCSV(db *sql.DB, sourcePath string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("csv file is empty")
		}
		return err
	}
	cols := columnNames(header)

	defs := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = fmt.Sprintf("%q TEXT", col)
		placeholders[i] = "?"
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE data (%s)", strings.Join(defs, ", "))); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = fmt.Sprintf("%q", col)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO data (%s) VALUES (%s)",
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		for i := range args {
			if i < len(record) {
				args[i] = record[i]
			} else {
				args[i] = ""
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// columnNames sanitizes a CSV header into unique SQL column names. Blank or
// unusable headers become positional names.
func columnNames(header []string) []string {
	seen := make(map[string]int, len(header))
	cols := make([]string, len(header))
	for i, raw := range header {
		name := sanitizeColumn(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(name)
		if n, dup := seen[key]; dup {
			seen[key] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[key] = 1
		}
		cols[i] = name
	}
	return cols
}

func sanitizeColumn(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return name
}

func openCacheDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}
