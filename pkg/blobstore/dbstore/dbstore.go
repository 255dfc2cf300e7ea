// Package dbstore implements the relational Blob Store backend: one
// row per blob in a single "blobs" table, upserted on path, with range
// reads expressed through Postgres's substr() operator.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/compress"

	_ "github.com/lib/pq"
)

// Store is a blobstore.Backend backed by a "blobs" table in the same
// Postgres database as the rest of the schema (see package store).
type Store struct {
	db *sql.DB
}

// New wraps an existing *sql.DB. The caller owns the connection pool's
// lifetime (pool sizing is configured once, centrally, from
// pkg/config).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ blobstore.Backend = (*Store)(nil)

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE path = $1`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetRaw(ctx context.Context, path string) ([]byte, compress.Algorithm, string, error) {
	var content []byte
	var mimeType string
	var algTag sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content, mime, compression FROM blobs WHERE path = $1`, path,
	).Scan(&content, &mimeType, &algTag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, "", blobstore.ErrNotFound
	}
	if err != nil {
		return nil, 0, "", err
	}
	alg, err := algorithmOrDefault(algTag)
	if err != nil {
		return nil, 0, "", err
	}
	return content, alg, mimeType, nil
}

func (s *Store) GetRangeRaw(ctx context.Context, path string, start, end int64) ([]byte, error) {
	// Postgres substr() is 1-indexed and takes a length, not an end
	// offset; [start, end] (0-indexed, inclusive) becomes
	// substr(content, start+1, end-start+1).
	var chunk []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT substr(content, $2, $3) FROM blobs WHERE path = $1`,
		path, start+1, end-start+1,
	).Scan(&chunk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *Store) PutRaw(ctx context.Context, path string, data []byte, alg compress.Algorithm, mimeType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (path, mime, compression, content, date_updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (path) DO UPDATE SET
			mime = EXCLUDED.mime,
			compression = EXCLUDED.compression,
			content = EXCLUDED.content,
			date_updated = now()
	`, path, mimeType, alg.String(), data)
	return err
}

// DeletePrefix deletes every blob whose path begins with the literal
// string prefix. LIKE wildcards ('%' and '_') in prefix are escaped so
// a path containing them is matched literally, not as a pattern.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	escaped := escapeLike(prefix)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE path LIKE $1 || '%' ESCAPE '\'`, escaped,
	)
	return err
}

func (s *Store) Close() error { return nil }

// ListPathsAfter returns up to limit blob paths greater than after, in
// path order — a simple keyset-paginated scan used by the
// database→S3 migration utility (pkg/store.MoveToS3), since
// blobstore.Backend itself exposes no enumeration operation.
func (s *Store) ListPathsAfter(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM blobs WHERE path > $1 ORDER BY path ASC LIMIT $2`, after, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func algorithmOrDefault(tag sql.NullString) (compress.Algorithm, error) {
	if !tag.Valid || tag.String == "" {
		return compress.Default, nil
	}
	alg, err := compress.Parse(tag.String)
	if err != nil {
		return 0, fmt.Errorf("dbstore: %w", err)
	}
	return alg, nil
}
