package classify

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxSource reads the classification_keywords table.
type PgxSource struct {
	pool *pgxpool.Pool
}

func NewPgxSource(pool *pgxpool.Pool) *PgxSource {
	return &PgxSource{pool: pool}
}

func (s *PgxSource) Name() string { return "postgres" }

func (s *PgxSource) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT keyword, language, COALESCE(category, ''), COALESCE(task_id, '')
		FROM classification_keywords
		ORDER BY keyword, language`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Keyword, &e.Language, &e.Category, &e.TaskID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// S3Source reads one JSON document, or every .json object under a prefix
// when the key ends in "/".
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

func NewS3Source(client *s3.Client, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Name() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Source) Load(ctx context.Context) ([]Entry, error) {
	keys := []string{s.key}
	if strings.HasSuffix(s.key, "/") {
		all, err := storage.ListFilesWithPrefix(ctx, s.client, s.bucket, s.key)
		if err != nil {
			return nil, err
		}
		keys = keys[:0]
		for _, k := range all {
			if strings.HasSuffix(k, ".json") {
				keys = append(keys, k)
			}
		}
	}

	var out []Entry
	for _, k := range keys {
		b, err := storage.GetFile(ctx, s.client, s.bucket, k)
		if err != nil {
			return nil, err
		}
		entries, err := decodeEntries(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

// FileSource reads a local JSON document. Used in development together with
// the seeded memory graph store.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file://" + s.path }

func (s *FileSource) Load(ctx context.Context) ([]Entry, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return decodeEntries(b)
}

// decodeEntries accepts either a bare array or an object carrying a
// classification_keywords array.
func decodeEntries(b []byte) ([]Entry, error) {
	var list []Entry
	if err := json.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Keywords []Entry `json:"classification_keywords"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode classification mapping: %w", err)
	}
	return doc.Keywords, nil
}

// OpenSource picks a source from the URL scheme: postgres://, s3:// or
// file://. The returned func releases its connections.
func OpenSource(ctx context.Context, rawURL string, s3Params storage.S3Params) (Source, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse classification store url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		pool, err := pgxpool.New(ctx, rawURL)
		if err != nil {
			return nil, nil, err
		}
		return NewPgxSource(pool), pool.Close, nil
	case "s3":
		bucket, key, err := storage.ParseS3URL(rawURL)
		if err != nil {
			return nil, nil, err
		}
		client, err := storage.NewS3Client(ctx, s3Params)
		if err != nil {
			return nil, nil, err
		}
		return NewS3Source(client, bucket, key), func() {}, nil
	case "file":
		return NewFileSource(u.Host + u.Path), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported classification store scheme %q", u.Scheme)
}
