package provision

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const downloadRetries = 3

// downloadFile fetches rawURL to destPath, retrying transient failures with
// exponential backoff. The file lands via temp-file-and-rename so a partial
// download never sits at destPath.
func (p *Provisioner) downloadFile(ctx context.Context, rawURL, destPath string) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download %s: unexpected status %s", rawURL, resp.Status)
		}

		tmpFile, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+"*")
		if err != nil {
			return backoff.Permanent(err)
		}
		defer os.Remove(tmpFile.Name())
		defer tmpFile.Close()

		if _, err := io.Copy(tmpFile, resp.Body); err != nil {
			return err
		}
		if err := tmpFile.Close(); err != nil {
			return err
		}
		return os.Rename(tmpFile.Name(), destPath)
	}

	notify := func(err error, wait time.Duration) {
		log.Info().Err(err).Dur("retry_in", wait).Str("url", rawURL).Msg("download failed, retrying")
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), downloadRetries), ctx)
	return backoff.RetryNotify(op, bo, notify)
}

// extractZip unpacks archive into destDir, preserving modes and symlinks
// (app bundles link their framework versions). Entries escaping destDir are
// rejected.
func extractZip(archive, destDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", archive, err)
	}
	defer r.Close()

	cleanDest := filepath.Clean(destDir)
	for _, f := range r.File {
		target := filepath.Join(cleanDest, f.Name)
		if !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes destination", f.Name)
		}

		mode := f.Mode()
		switch {
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}

		case mode&os.ModeSymlink != 0:
			linkTarget, err := readZipEntry(f)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), constant.DefaultDirMode); err != nil {
				return fmt.Errorf("create directory for %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(string(linkTarget), target); err != nil {
				return fmt.Errorf("create symlink %s: %w", target, err)
			}

		default:
			if err := os.MkdirAll(filepath.Dir(target), constant.DefaultDirMode); err != nil {
				return fmt.Errorf("create directory for %s: %w", target, err)
			}
			if err := writeZipEntry(f, target, mode.Perm()); err != nil {
				return err
			}
		}
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeZipEntry(f *zip.File, target string, perm os.FileMode) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extract %s: %w", target, err)
	}
	return out.Close()
}
