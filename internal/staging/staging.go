// Package staging archives fetched snapshots as CSV objects before
// they are reconciled into the warehouse. Archiving is best-effort: a
// failed archive is logged, never fatal to the run.
package staging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/salasdw/peoplesync/internal/etl"
)

// ObjectStore writes archive objects.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte) error
}

// Config selects and configures the backing store.
type Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	// LocalDir, when set, archives to the filesystem instead of S3.
	LocalDir string `yaml:"local_dir"`
}

// S3Store writes objects to a MinIO/S3 bucket.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to the object store and ensures the bucket
// exists.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	return err
}

// LocalStore writes objects under a directory, for development runs
// without an object store.
type LocalStore struct {
	Dir string
}

func (s *LocalStore) PutObject(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Archiver snapshots tables into the object store.
type Archiver struct {
	store ObjectStore
	log   *slog.Logger
	now   func() time.Time
}

// NewArchiver wraps a store; a nil store disables archiving.
func NewArchiver(store ObjectStore, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{store: store, log: log, now: time.Now}
}

// NewFromConfig builds the archiver the config asks for. Disabled or
// misconfigured staging degrades to a no-op archiver.
func NewFromConfig(ctx context.Context, cfg Config, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Enabled {
		return NewArchiver(nil, log)
	}
	if cfg.LocalDir != "" {
		return NewArchiver(&LocalStore{Dir: cfg.LocalDir}, log)
	}
	store, err := NewS3Store(ctx, cfg)
	if err != nil {
		log.Warn("staging disabled: object store unavailable", "error", err)
		return NewArchiver(nil, log)
	}
	return NewArchiver(store, log)
}

// ArchiveTable writes the table as sesame/{domain}/{date}/{uuid}.csv.
// Failures are logged and swallowed.
func (a *Archiver) ArchiveTable(ctx context.Context, domain string, t *etl.Table) {
	if a.store == nil || t == nil {
		return
	}
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		a.log.Warn("archive skipped: encode failed", "domain", domain, "error", err)
		return
	}
	key := fmt.Sprintf("sesame/%s/%s/%s.csv",
		domain, a.now().UTC().Format("2006-01-02"), uuid.NewString())
	if err := a.store.PutObject(ctx, key, buf.Bytes()); err != nil {
		a.log.Warn("archive failed", "domain", domain, "key", key, "error", err)
		return
	}
	a.log.Info("snapshot archived", "domain", domain, "key", key, "rows", t.Len())
}
