// Package selfupdate replaces the running executable with a newer build
// fetched from the release server, keeping a backup of the previous build
// and never leaving the live path missing or partially written.
package selfupdate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrTransportUnavailable = errors.New("no usable update transport")
	ErrDownloadFailed       = errors.New("update download failed")
	ErrInvalidArtifact      = errors.New("downloaded artifact is not a valid executable")
	ErrBackupFailed         = errors.New("backup of current executable failed")
	ErrSwapFailed           = errors.New("swap of new executable failed")
)

// Result reports the outcome of a completed update cycle.
type Result int

const (
	// ResultUnchanged means the remote artifact is byte-identical to the
	// running executable; nothing was touched.
	ResultUnchanged Result = iota
	// ResultUpdated means the live executable was replaced; the caller
	// should re-exec so the rest of the run uses the new build.
	ResultUpdated
)

// Test seam for os.Rename so swap failure can be simulated.
var renameFile = os.Rename

const downloadMaxTries = 3

// Updater fetches and installs a new build of the executable at execPath.
type Updater struct {
	baseURL    string
	branch     string
	execPath   string
	state      *CheckState
	httpClient *http.Client
}

// New creates an updater for the executable at execPath, pulling artifacts
// for the given branch from baseURL. The checked-at state is recorded in
// state after every attempt that reached the network.
func New(baseURL, branch, execPath string, state *CheckState) *Updater {
	return &Updater{
		baseURL:  baseURL,
		branch:   branch,
		execPath: execPath,
		state:    state,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Due reports whether an automatic check should run, based on the time
// elapsed since the last recorded check. Manual updates bypass this.
func (u *Updater) Due(interval time.Duration) bool {
	return u.state.Due(interval, time.Now())
}

// ArtifactURL returns the remote location of the build for this platform.
func (u *Updater) ArtifactURL() string {
	return fmt.Sprintf("%s/%s/%s_%s_%s", u.baseURL, u.branch,
		execName(u.execPath), runtime.GOOS, runtime.GOARCH)
}

// Update runs one full update cycle: download to a side path, validate,
// compare with the running executable, back up, and atomically swap.
// The live executable is only ever replaced by a whole-file rename, and a
// failed swap is rolled back from the backup taken immediately before it.
func (u *Updater) Update(ctx context.Context) (Result, error) {
	remote, err := url.Parse(u.ArtifactURL())
	if err != nil || (remote.Scheme != "http" && remote.Scheme != "https") {
		return ResultUnchanged, fmt.Errorf("%w: bad artifact URL %q", ErrTransportUnavailable, u.ArtifactURL())
	}

	// Download next to the live executable so the final rename stays on
	// one filesystem; the pid suffix keeps concurrent attempts apart.
	candidate := u.execPath + ".update." + strconv.Itoa(os.Getpid())
	err = u.download(ctx, remote.String(), candidate)
	// The marker records every attempt that reached the network, failed
	// ones included, so a broken release server is not hammered on every
	// scheduled run.
	u.touchState()
	if err != nil {
		os.Remove(candidate)
		return ResultUnchanged, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	if err := validateArtifact(candidate); err != nil {
		os.Remove(candidate)
		return ResultUnchanged, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	identical, err := filesIdentical(candidate, u.execPath)
	if err != nil {
		os.Remove(candidate)
		return ResultUnchanged, fmt.Errorf("%w: comparing with current executable: %v", ErrDownloadFailed, err)
	}
	if identical {
		os.Remove(candidate)
		slog.Info("already running the latest build", "branch", u.branch)
		return ResultUnchanged, nil
	}

	backup := u.execPath + ".backup"
	if err := copyFile(u.execPath, backup); err != nil {
		os.Remove(candidate)
		return ResultUnchanged, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	if err := os.Chmod(candidate, 0755); err != nil {
		os.Remove(candidate)
		return ResultUnchanged, fmt.Errorf("%w: %v", ErrSwapFailed, err)
	}
	if err := renameFile(candidate, u.execPath); err != nil {
		os.Remove(candidate)
		if restoreErr := copyFile(backup, u.execPath); restoreErr != nil {
			slog.Error("failed to restore executable from backup", "backup", backup, "error", restoreErr)
		}
		return ResultUnchanged, fmt.Errorf("%w: %v", ErrSwapFailed, err)
	}

	slog.Info("executable updated", "path", u.execPath, "branch", u.branch, "backup", backup)
	return ResultUpdated, nil
}

func (u *Updater) touchState() {
	if u.state == nil {
		return
	}
	if err := u.state.Touch(); err != nil {
		slog.Warn("failed to record update check time", "error", err)
	}
}

// download fetches url into dest, retrying transient transport failures
// with exponential backoff. Client errors (4xx) are not retried.
func (u *Updater) download(ctx context.Context, url, dest string) error {
	_, err := backoff.Retry(ctx, func() (int64, error) {
		return u.fetchOnce(ctx, url, dest)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(downloadMaxTries),
	)
	return err
}

func (u *Updater) fetchOnce(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", "plesk-scripts/"+execName(u.execPath))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("server returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return written, nil
}

// validateArtifact checks that the downloaded file is non-empty and starts
// with a known executable marker (ELF, PE, or an interpreter line). This is
// a structural sanity check only, not a signature verification.
func validateArtifact(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return err
	}
	if n == 0 {
		return errors.New("artifact is empty")
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("\x7fELF")):
		return nil
	case bytes.HasPrefix(header, []byte("MZ")):
		return nil
	case bytes.HasPrefix(header, []byte("#!")):
		return nil
	}
	return fmt.Errorf("unrecognized header %q", header)
}

// filesIdentical streams both files and reports byte-for-byte equality.
func filesIdentical(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 64*1024)
	bufB := make([]byte, 64*1024)
	for {
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return errB == io.EOF || errB == io.ErrUnexpectedEOF, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

// copyFile copies src to dst, preserving the source file mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func execName(path string) string {
	return filepath.Base(path)
}
