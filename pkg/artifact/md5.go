package artifact

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GenerateMD5 returns the hex MD5 digest of the file at path. Published
// images ship with .md5 companion files in this format; the digest is
// an integrity check against corrupted downloads, nothing more.
func GenerateMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot hash %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("cannot hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteMD5Companion writes the md5sum-style companion file for path.
func WriteMD5Companion(path string) (string, error) {
	digest, err := GenerateMD5(path)
	if err != nil {
		return "", err
	}
	companion := path + ".md5"
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(path))
	if err := os.WriteFile(companion, []byte(line), 0644); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", companion, err)
	}
	return companion, nil
}

// VerifyMD5Companion checks the file at path against its companion .md5
// file. The companion holds the digest as its first whitespace-separated
// token, as written by md5sum.
func VerifyMD5Companion(path, companion string) error {
	content, err := os.ReadFile(companion)
	if err != nil {
		return fmt.Errorf("cannot read checksum file %s: %w", companion, err)
	}
	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return fmt.Errorf("checksum file %s is empty", companion)
	}
	want := fields[0]

	got, err := GenerateMD5(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("MD5 mismatch for %s: got %s, want %s", path, got, want)
	}
	return nil
}
