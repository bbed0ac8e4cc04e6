package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteFileName = "shellcache.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS containers (name TEXT PRIMARY KEY, created_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS entries (
		container TEXT NOT NULL,
		url TEXT NOT NULL,
		status INTEGER NOT NULL,
		header TEXT NOT NULL,
		body BLOB,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (container, url)
	)`,
	`PRAGMA journal_mode=WAL`,
}

// NewSQLiteStorage 在 basePath 下创建单文件 SQLite 存储，所有容器共用一张表。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(basePath, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db         *sql.DB
	writeMutex sync.Mutex
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Container, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, s.db, name); err != nil {
		return nil, err
	}
	return &sqliteContainer{storage: s, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM containers WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE container = ?`, name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM containers WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, tx.Commit()
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM containers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStorage) ensure(ctx context.Context, db execer, name string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO containers (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("create container %s: %w", name, err)
	}
	return nil
}

type sqliteContainer struct {
	storage *sqliteStorage
	name    string
}

func (c *sqliteContainer) Name() string {
	return c.name
}

func (c *sqliteContainer) Get(ctx context.Context, url string) (*Response, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := c.storage.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE container = ? AND url = ?`,
		c.name, url).Scan(&status, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	resp := &Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       body,
		StoredAt:   time.Unix(0, storedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode cached header: %w", err)
	}
	return resp, nil
}

func (c *sqliteContainer) Put(ctx context.Context, url string, resp *Response) error {
	stored, err := stampedCopy(resp)
	if err != nil {
		return err
	}
	header, err := json.Marshal(stored.Header)
	if err != nil {
		return err
	}

	c.storage.writeMutex.Lock()
	defer c.storage.writeMutex.Unlock()

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := c.storage.ensure(ctx, tx, c.name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (container, url, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.name, url, stored.StatusCode, string(header), stored.Body, stored.StoredAt.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *sqliteContainer) Delete(ctx context.Context, url string) (bool, error) {
	c.storage.writeMutex.Lock()
	defer c.storage.writeMutex.Unlock()

	res, err := c.storage.db.ExecContext(ctx,
		`DELETE FROM entries WHERE container = ? AND url = ?`, c.name, url)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (c *sqliteContainer) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.storage.db.QueryContext(ctx,
		`SELECT url FROM entries WHERE container = ? ORDER BY url`, c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}
