package fetch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS resources (
	url          TEXT PRIMARY KEY,
	status       INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	body         BLOB NOT NULL,
	fetched      INTEGER NOT NULL
);`

// Cache keeps successful responses of the wrapped Fetcher in SQLite
// database keyed by URL. Failures are never cached.
type Cache struct {
	next Fetcher
	log  *zap.Logger

	mu   sync.Mutex // sqlite connection is not safe for concurrent use
	conn *sqlite.Conn
}

// NewCache opens (creating if necessary) cache database at path. Use
// ":memory:" for a cache living only as long as the process.
func NewCache(path string, next Fetcher, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sqlite.OpenConn(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open fetch cache (%s): %w", path, err)
	}
	if err := sqlitex.ExecuteScript(conn, cacheSchema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to prepare fetch cache (%s): %w", path, err)
	}
	return &Cache{next: next, log: log.Named("cache"), conn: conn}, nil
}

func (c *Cache) Fetch(ctx context.Context, url string) (*Response, error) {
	if resp, err := c.lookup(url); err != nil {
		c.log.Warn("Unable to read fetch cache", zap.String("url", url), zap.Error(err))
	} else if resp != nil {
		c.log.Debug("Resource served from cache", zap.String("url", url), zap.Int("bytes", len(resp.Body)))
		return resp, nil
	}

	resp, err := c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.store(url, resp); err != nil {
		c.log.Warn("Unable to update fetch cache", zap.String("url", url), zap.Error(err))
	}
	return resp, nil
}

func (c *Cache) lookup(url string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp *Response
	err := sqlitex.Execute(c.conn, `SELECT status, content_type, body FROM resources WHERE url = ?`,
		&sqlitex.ExecOptions{
			Args: []any{url},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				body, err := io.ReadAll(stmt.ColumnReader(2))
				if err != nil {
					return err
				}
				resp = &Response{
					Status:      stmt.ColumnInt(0),
					ContentType: stmt.ColumnText(1),
					Body:        body,
				}
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Cache) store(url string, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sqlitex.Execute(c.conn,
		`INSERT OR REPLACE INTO resources (url, status, content_type, body, fetched) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{url, resp.Status, resp.ContentType, resp.Body, time.Now().Unix()},
		})
}

// Close releases cache database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
