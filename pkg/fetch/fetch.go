// Package fetch resolves and downloads signed images from the image
// server: a build spec is turned into a candidate index page per naming
// scheme, the artifact link is picked off the page, and the download is
// verified against its published MD5 companion.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/artifact"
)

// DefaultServerPrefix is the official image server root.
const DefaultServerPrefix = "http://chromeos-images/chromeos-official"

// Client downloads image-server resources into a work directory.
type Client struct {
	HTTP    *retryablehttp.Client
	Prefix  string
	WorkDir string
}

// New returns a Client fetching from the official image server into
// workDir.
func New(workDir string) *Client {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	return &Client{
		HTTP:    hc,
		Prefix:  DefaultServerPrefix,
		WorkDir: workDir,
	}
}

func (c *Client) get(url string) (*http.Response, error) {
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp, nil
}

var hrefRe = regexp.MustCompile(`(?i)<a\s[^>]*href="([^"]+)"`)

// links returns the href targets of all anchor tags on the page.
func links(page []byte) []string {
	var urls []string
	for _, m := range hrefRe.FindAllSubmatch(page, -1) {
		urls = append(urls, string(m[1]))
	}
	return urls
}

// ResolveLink fetches an index page and returns the absolute URL of the
// first link whose name matches the glob pattern. Additional matches
// are logged and ignored.
func (c *Client) ResolveLink(indexURL, pattern string) (string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("bad link pattern %q: %w", pattern, err)
	}

	resp, err := c.get(indexURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading index page %s: %w", indexURL, err)
	}

	var matches []string
	for _, link := range links(page) {
		if g.Match(path.Base(link)) {
			matches = append(matches, link)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no link matching %q on page %s", pattern, indexURL)
	}
	for _, extra := range matches[1:] {
		logrus.Warnf("additional match %s found on %s", extra, indexURL)
	}
	if strings.Contains(matches[0], "://") {
		return matches[0], nil
	}
	return indexURL + "/" + matches[0], nil
}

// Download copies the resource at url into the work directory under its
// basename and returns the local path.
func (c *Client) Download(url string) (string, error) {
	resp, err := c.get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dest := filepath.Join(c.WorkDir, path.Base(url))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// DownloadVerified downloads a resource together with its ".md5"
// companion and checks the digest. A local copy that already verifies
// is reused without refetching.
func (c *Client) DownloadVerified(url, desc string) (string, error) {
	local := filepath.Join(c.WorkDir, path.Base(url))
	if _, err := os.Stat(local); err == nil {
		if _, err := os.Stat(local + ".md5"); err == nil {
			if err := artifact.VerifyMD5Companion(local, local+".md5"); err == nil {
				logrus.Infof("resource %s already exists with good MD5, skipping fetch", local)
				return local, nil
			}
		}
	}

	logrus.Infof("downloading %s", url)
	if _, err := c.Download(url); err != nil {
		return "", fmt.Errorf("%s could not be fetched: %w", desc, err)
	}
	if _, err := c.Download(url + ".md5"); err != nil {
		return "", fmt.Errorf("%s MD5 could not be fetched: %w", desc, err)
	}
	if err := artifact.VerifyMD5Companion(local, local+".md5"); err != nil {
		return "", fmt.Errorf("%s: %w", desc, err)
	}
	return local, nil
}

// FetchImage resolves and downloads one image of a build, trying each
// naming scheme in turn.
func (c *Client) FetchImage(board string, kind ImageKind, spec string) (string, error) {
	build, err := ParseBuild(board, kind, spec)
	if err != nil {
		return "", err
	}

	var errs []string
	for _, scheme := range Schemes {
		indexURL := build.IndexURL(c.Prefix, scheme)
		link, err := c.ResolveLink(indexURL, build.LinkPattern(kind))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		// a failed download under one scheme still falls through to
		// the next source
		local, err := c.DownloadVerified(link, kind.String()+" image")
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		return local, nil
	}
	return "", fmt.Errorf("cannot resolve %s image for %s %s: %s",
		kind, board, spec, strings.Join(errs, "; "))
}
