// Package payload fetches the Arch Linux ARM root file system archive and
// plans its extraction.
package payload

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// Embed root certificates so that downloads work on minimal build hosts
	// (containers, freshly installed systems) without a CA bundle.
	_ "github.com/breml/rootcerts"
	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/version"
)

// ErrChecksumMismatch is returned when the downloaded archive does not match
// its published or pinned checksum. Nothing is written in that case.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Downloader fetches archives over HTTP(S).
type Downloader struct {
	Client *http.Client
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "alarm "+version.ReadBrief())
	return d.client().Do(req)
}

// Result describes a Download call.
type Result struct {
	// Skipped is true when the archive was already present.
	Skipped bool
	// MD5 is the hex digest of the archive, empty when skipped.
	MD5 string
	// Verified is true when the digest was compared to a known checksum.
	Verified bool
	Size     int64
}

// Download fetches url to filename unless filename already exists (and force
// is false). The archive and its url.md5 companion are fetched in parallel.
// pinnedMD5, when non-empty, takes precedence over the published checksum.
// filename only ever appears complete: it is written through a temporary
// file which is renamed into place after verification.
func (d *Downloader) Download(ctx context.Context, url, filename, pinnedMD5 string, force bool) (*Result, error) {
	if _, err := os.Stat(filename); err == nil && !force {
		log.Printf("%s already present, not downloading", filename)
		return &Result{Skipped: true}, nil
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	pf, err := renameio.NewPendingFile(filename, renameio.WithPermissions(0644))
	if err != nil {
		return nil, err
	}
	defer pf.Cleanup()

	var (
		digest    string
		size      int64
		published string
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		digest, size, err = d.fetchArchive(ctx, url, pf)
		return err
	})
	if pinnedMD5 == "" {
		eg.Go(func() error {
			var err error
			published, err = d.fetchChecksum(ctx, url+".md5")
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	want := strings.ToLower(strings.TrimSpace(pinnedMD5))
	if want == "" {
		want = published
	}
	res := &Result{MD5: digest, Size: size}
	if want != "" {
		if digest != want {
			return nil, fmt.Errorf("%w: %s: got md5 %s, want %s", ErrChecksumMismatch, url, digest, want)
		}
		res.Verified = true
	} else {
		log.Printf("no checksum published for %s, not verifying", url)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Downloader) fetchArchive(ctx context.Context, url string, w io.Writer) (digest string, size int64, _ error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		return "", 0, fmt.Errorf("%s: unexpected HTTP status: got %v, want %v", url, resp.Status, want)
	}
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(w, h), resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("downloading %s: %v", url, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// fetchChecksum returns the digest from an md5sum(1) style file, or the empty
// string if none is published.
func (d *Downloader) fetchChecksum(ctx context.Context, url string) (string, error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		return "", fmt.Errorf("%s: unexpected HTTP status: got %v, want %v", url, resp.Status, want)
	}
	return ParseChecksum(resp.Body)
}

// ParseChecksum reads the first digest of an md5sum(1) output, i.e. lines of
// the form "<hex digest>  <file name>".
func ParseChecksum(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		sum := strings.ToLower(fields[0])
		if _, err := hex.DecodeString(sum); err != nil || len(sum) != 2*md5.Size {
			return "", fmt.Errorf("malformed md5 checksum %q", fields[0])
		}
		return sum, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("empty checksum file")
}

// ExtractCommand returns the command unpacking archive into dir, preserving
// permissions and ownership.
func ExtractCommand(archive, dir string) execute.Command {
	return execute.Sudo("bsdtar", "-xpf", archive, "-C", dir)
}
