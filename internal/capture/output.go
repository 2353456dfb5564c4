package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const fileTimeLayout = "2006_01_02_15_04_05"

// outputFile is the active append-only output file. It is opened on the
// first write so a session that never merges leaves nothing on disk.
type outputFile struct {
	mu    sync.Mutex
	dir   string
	owner string
	now   func() time.Time
	log   *slog.Logger

	f     *os.File
	w     *bufio.Writer
	path  string
	size  int64
	files []string
}

func newOutputFile(dir, owner string, now func() time.Time, log *slog.Logger) *outputFile {
	return &outputFile{dir: dir, owner: owner, now: now, log: log}
}

// fileStamp formats t as yyyy_MM_dd_HH_mm_ss_fff.
func fileStamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format(fileTimeLayout), t.Nanosecond()/int(time.Millisecond))
}

// Write appends data, opening a new file if none is active.
func (o *outputFile) Write(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		if err := o.openLocked(); err != nil {
			return err
		}
	}
	n, err := o.w.Write(data)
	o.size += int64(n)
	if err != nil {
		return fmt.Errorf("write %s: %w", o.path, err)
	}
	return nil
}

// Rotate closes the active file. The next Write opens a new one.
func (o *outputFile) Rotate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeLocked()
}

// Close flushes and closes the active file. Safe to call repeatedly.
func (o *outputFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeLocked()
}

// Path returns the active file path, or "" when none is open.
func (o *outputFile) Path() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path
}

// Files returns every file opened so far, in order.
func (o *outputFile) Files() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.files...)
}

func (o *outputFile) openLocked() error {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	base := o.owner + "_" + fileStamp(o.now())
	name := base + ".ts"
	for i := 1; ; i++ {
		path := filepath.Join(o.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			o.f = f
			o.w = bufio.NewWriterSize(f, 256<<10)
			o.path = path
			o.size = 0
			o.files = append(o.files, path)
			o.log.Info("output file opened", "path", path)
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("open output file: %w", err)
		}
		name = fmt.Sprintf("%s_%d.ts", base, i)
	}
}

func (o *outputFile) closeLocked() error {
	if o.f == nil {
		return nil
	}
	flushErr := o.w.Flush()
	closeErr := o.f.Close()
	o.log.Info("output file closed", "path", o.path, "size", humanize.Bytes(uint64(o.size)))
	o.f, o.w, o.path, o.size = nil, nil, "", 0
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}

// writeSideFile stores an unordered segment next to the ordered output.
func writeSideFile(dir, owner string, now time.Time, segPath string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	base := filepath.Base(segPath)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s", owner, fileStamp(now), base))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write side file: %w", err)
	}
	return path, nil
}
