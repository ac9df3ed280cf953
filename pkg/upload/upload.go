// Package upload pushes bundle artifacts to a Google Storage bucket.
package upload

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
)

// DefaultBucket receives factory bundles unless configured otherwise.
const DefaultBucket = "chromeos-download-test"

// Uploader writes objects into one bucket.
type Uploader struct {
	Bucket string

	client *storage.Client
	// newWriter is swapped out in tests.
	newWriter func(ctx context.Context, object string) io.WriteCloser
}

// New connects to Google Storage using ambient credentials.
func New(ctx context.Context, bucket string) (*Uploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to Google Storage: %w", err)
	}
	return &Uploader{Bucket: bucket, client: client}, nil
}

func (u *Uploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

func (u *Uploader) objectWriter(ctx context.Context, object string) io.WriteCloser {
	if u.newWriter != nil {
		return u.newWriter(ctx, object)
	}
	return u.client.Bucket(u.Bucket).Object(object).NewWriter(ctx)
}

// UploadFile copies one local file to the named object.
func (u *Uploader) UploadFile(ctx context.Context, filename, object string) error {
	in, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("file %s does not exist: %w", filename, err)
	}
	defer in.Close()

	w := u.objectWriter(ctx, object)
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("uploading %s to gs://%s/%s: %w", filename, u.Bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploading %s to gs://%s/%s: %w", filename, u.Bucket, object, err)
	}
	logrus.Infof("uploaded %s to gs://%s/%s", filename, u.Bucket, object)
	return nil
}

// UploadDir uploads every regular file under dir, preserving the
// relative layout beneath the object prefix.
func (u *Uploader) UploadDir(ctx context.Context, dir, prefix string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return u.UploadFile(ctx, p, path.Join(prefix, filepath.ToSlash(rel)))
	})
}
