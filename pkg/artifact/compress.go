// Package artifact turns partition streams and files into the
// compressed payloads served to update clients. Compression and digest
// computation happen in a single pass over the data: the digest covers
// the compressed bytes exactly as written, so the served file and its
// recorded checksum can never drift apart.
package artifact

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/pgzip"
	"github.com/sirupsen/logrus"
)

// Result describes one produced artifact.
type Result struct {
	Path   string
	Digest string // base64 SHA-1 over the compressed bytes
	Size   int64  // compressed size in bytes
}

// CompressFile compresses the file at src into dest.
func CompressFile(src, dest string) (*Result, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s for compression: %w", src, err)
	}
	defer f.Close()
	return CompressStream(f, dest)
}

// CompressStream compresses everything read from r into dest. This is
// the single write-through path shared by all artifact producers; the
// digest is computed on the compressed bytes as they are written.
func CompressStream(r io.Reader, dest string) (*Result, error) {
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("cannot create artifact %s: %w", dest, err)
	}
	defer out.Close()

	hash := sha1.New()
	gz, err := pgzip.NewWriterLevel(io.MultiWriter(out, hash), pgzip.BestCompression)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(gz, r); err != nil {
		gz.Close()
		return nil, fmt.Errorf("compression into %s failed: %w", dest, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compression into %s failed: %w", dest, err)
	}
	if err := out.Sync(); err != nil {
		return nil, err
	}

	fi, err := out.Stat()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Path:   dest,
		Digest: base64.StdEncoding.EncodeToString(hash.Sum(nil)),
		Size:   fi.Size(),
	}
	logrus.Infof("compressed %s: %d bytes, digest %s", dest, res.Size, res.Digest)
	return res, nil
}
