// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus keeps a local document collection in SQLite and serves it
// as a search provider. Markdown and text files are indexed with FTS5 and
// re-indexed only when their modification time changes.
package corpus

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/credibility"
	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	dbFile            = "corpus.db"
	defaultMaxResults = 20
)

// Store manages the corpus SQLite database.
type Store struct {
	db         *sql.DB
	maxResults int

	// fts is false when the SQLite build lacks FTS5; Search then falls
	// back to substring matching.
	fts bool
}

// Open opens or creates the corpus database at cfg.Dir/corpus.db. The
// directory is created if needed.
func Open(cfg types.CorpusConfig) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = ".deep-research"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating corpus directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, dbFile)+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	s := &Store{db: db, maxResults: maxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		source_type TEXT NOT NULL,
		published TEXT,
		content TEXT NOT NULL,
		file_mod_time TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='documents_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		s.fts = true
		return nil
	}

	if _, err := s.db.Exec(`CREATE VIRTUAL TABLE documents_fts USING fts5(title, content, content=documents, content_rowid=rowid)`); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			return nil
		}
		return fmt.Errorf("creating FTS table: %w", err)
	}
	triggers := []string{
		`CREATE TRIGGER documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END`,
		`CREATE TRIGGER documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES('delete', old.rowid, old.title, old.content);
		END`,
		`CREATE TRIGGER documents_au AFTER UPDATE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES('delete', old.rowid, old.title, old.content);
			INSERT INTO documents_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END`,
	}
	for _, stmt := range triggers {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	s.fts = true
	return nil
}

// IngestSummary holds counts from a corpus indexing run.
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Removed int
	Failed  int
}

// Total returns the number of files processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest indexes every .md and .txt file under dir. Unchanged files are
// skipped, changed files are replaced, and documents whose files have
// disappeared from dir are removed. Progress lines go to w.
func (s *Store) Ingest(ctx context.Context, dir string, w io.Writer) (IngestSummary, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return IngestSummary{}, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("reading corpus directory: %w", err)
	}
	if !info.IsDir() {
		return IngestSummary{}, fmt.Errorf("%s is not a directory", dir)
	}

	known, err := s.modTimes(ctx, root)
	if err != nil {
		return IngestSummary{}, err
	}

	var summary IngestSummary
	seen := make(map[string]bool)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexable(path) {
			return nil
		}
		seen[path] = true

		fi, err := d.Info()
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", rel(root, path), err)
			summary.Failed++
			return nil
		}
		modTime := fi.ModTime().UTC().Format(time.RFC3339Nano)
		stored, isUpdate := known[path]
		if isUpdate && stored == modTime {
			fmt.Fprintf(w, "skipped %s\n", rel(root, path))
			summary.Skipped++
			return nil
		}

		doc, err := readDocument(path)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", rel(root, path), err)
			summary.Failed++
			return nil
		}
		if err := s.upsert(ctx, doc, modTime); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", rel(root, path), err)
			summary.Failed++
			return nil
		}
		if isUpdate {
			fmt.Fprintf(w, "updated %s\n", rel(root, path))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexed %s\n", rel(root, path))
			summary.Indexed++
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	for path := range known {
		if seen[path] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
			return summary, fmt.Errorf("removing %s: %w", path, err)
		}
		fmt.Fprintf(w, "removed %s\n", rel(root, path))
		summary.Removed++
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, removed: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Removed, summary.Failed)
	return summary, nil
}

// modTimes returns the stored modification time of every document under root.
func (s *Store) modTimes(ctx context.Context, root string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, file_mod_time FROM documents WHERE path LIKE ? ESCAPE '\'`,
		likeEscape(root+string(filepath.Separator))+"%")
	if err != nil {
		return nil, fmt.Errorf("loading indexing status: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, mod string
		if err := rows.Scan(&path, &mod); err != nil {
			return nil, err
		}
		out[path] = mod
	}
	return out, rows.Err()
}

func (s *Store) upsert(ctx context.Context, doc document, modTime string) error {
	published := ""
	if !doc.Published.IsZero() {
		published = doc.Published.Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path, url, title, source_type, published, content, file_mod_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			url=excluded.url, title=excluded.title, source_type=excluded.source_type,
			published=excluded.published, content=excluded.content,
			file_mod_time=excluded.file_mod_time`,
		doc.Path, doc.URL, doc.Title, string(doc.SourceType), published, doc.Content, modTime,
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}
	return nil
}

// Stats describes the corpus contents.
type Stats struct {
	Documents int
	Bytes     int64
	BySource  map[types.SourceType]int
	FullText  bool
}

// Stats counts indexed documents.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{BySource: make(map[types.SourceType]int), FullText: s.fts}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_type, count(*), coalesce(sum(length(content)), 0) FROM documents GROUP BY source_type`)
	if err != nil {
		return st, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sourceType string
			n          int
			size       int64
		)
		if err := rows.Scan(&sourceType, &n, &size); err != nil {
			return st, err
		}
		st.BySource[types.SourceType(sourceType)] = n
		st.Documents += n
		st.Bytes += size
	}
	return st, rows.Err()
}

// document is one parsed corpus file.
type document struct {
	Path       string
	URL        string
	Title      string
	SourceType types.SourceType
	Published  time.Time
	Content    string
}

// frontMatter is the optional YAML header of a corpus file.
type frontMatter struct {
	URL        string    `yaml:"url"`
	Title      string    `yaml:"title"`
	SourceType string    `yaml:"source_type"`
	Published  time.Time `yaml:"published"`
}

func indexable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// readDocument parses a corpus file. The URL defaults to a file:// link and
// the title to the first Markdown heading or the file name.
func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	fm, body, err := splitFrontMatter(data)
	if err != nil {
		return document{}, fmt.Errorf("front matter: %w", err)
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		return document{}, errors.New("empty document")
	}

	doc := document{
		Path:      path,
		URL:       strings.TrimSpace(fm.URL),
		Title:     strings.TrimSpace(fm.Title),
		Published: fm.Published,
		Content:   content,
	}
	if doc.URL == "" {
		doc.URL = "file://" + filepath.ToSlash(path)
	}
	if doc.Title == "" {
		doc.Title = firstHeading(content)
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	doc.SourceType = sourceType(fm.SourceType, doc.URL)
	return doc, nil
}

// splitFrontMatter separates a leading "---" YAML block from the body.
func splitFrontMatter(data []byte) (frontMatter, []byte, error) {
	var fm frontMatter
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return fm, data, nil
	}
	rest := data[bytes.IndexByte(data, '\n')+1:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return fm, data, nil
	}
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return fm, nil, err
	}
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return fm, body, nil
}

func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// sourceType honours an explicit front-matter value, then classifies the
// URL. Local files without a web URL are unknown.
func sourceType(declared, rawURL string) types.SourceType {
	switch st := types.SourceType(strings.ToLower(strings.TrimSpace(declared))); st {
	case types.SourceOfficial, types.SourceAcademic, types.SourceNews,
		types.SourceBlog, types.SourceForum, types.SourceUnknown:
		return st
	}
	if strings.HasPrefix(rawURL, "file://") {
		return types.SourceUnknown
	}
	return credibility.Classify(rawURL)
}

func rel(root, path string) string {
	if r, err := filepath.Rel(root, path); err == nil {
		return r
	}
	return path
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
