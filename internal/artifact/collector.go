// Package artifact picks up documents the browser downloads and files them
// under deterministic names.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/config"
)

var (
	// ErrNoArtifact means no finished download appeared before the timeout.
	ErrNoArtifact = errors.New("no downloaded artifact")
	// ErrInvalidPDF means the downloaded file is not a PDF document.
	ErrInvalidPDF = errors.New("downloaded file is not a valid PDF")
)

var pdfMagic = []byte("%PDF-")

// partialSuffixes mark downloads the browser has not finished writing.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// Name identifies the batch an artifact belongs to.
type Name struct {
	Unit    string
	FirstID string
	Batch   int
}

// Collector watches the browser download directory.
type Collector struct {
	downloadDir string
	outputDir   string
	pattern     glob.Glob
	prefix      string
	timeout     time.Duration
	stableFor   time.Duration
	poll        time.Duration
	validate    bool
	logger      *zap.Logger

	now func() time.Time
}

// NewCollector creates a collector reading from downloadDir.
func NewCollector(downloadDir string, cfg config.ArtifactsConfig, logger *zap.Logger) (*Collector, error) {
	if downloadDir == "" {
		return nil, fmt.Errorf("artifact collector: download directory not configured")
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*.pdf"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact pattern '%s': %w", pattern, err)
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	c := &Collector{
		downloadDir: downloadDir,
		outputDir:   cfg.OutputDir,
		pattern:     g,
		prefix:      cfg.Prefix,
		timeout:     cfg.DownloadTimeout,
		stableFor:   cfg.StableFor,
		poll:        100 * time.Millisecond,
		validate:    cfg.ValidatePDF,
		logger:      logger.Named("artifacts"),
		now:         time.Now,
	}
	if c.outputDir == "" {
		c.outputDir = downloadDir
	}
	if c.prefix == "" {
		c.prefix = "Boleto"
	}
	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}
	if c.stableFor <= 0 {
		c.stableFor = 500 * time.Millisecond
	}
	return c, nil
}

// FileName returns the final file name for n:
// <prefix>_<unit>_<first id>_<YYYYMMDD>_<batch>.pdf.
func (c *Collector) FileName(n Name) string {
	return fmt.Sprintf("%s_%s_%s_%s_%d.pdf",
		c.prefix, sanitize(n.Unit), sanitize(n.FirstID), c.now().Format("20060102"), n.Batch)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Watch remembers which files existed when a download was triggered.
type Watch struct {
	c    *Collector
	seen map[string]struct{}
}

// BeginWatch snapshots the download directory. Call it before triggering
// the download so older files are never mistaken for the new one.
func (c *Collector) BeginWatch() (*Watch, error) {
	entries, err := os.ReadDir(c.downloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read download directory: %w", err)
	}
	w := &Watch{c: c, seen: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		w.seen[e.Name()] = struct{}{}
	}
	return w, nil
}

// Await waits for a new, fully written download and moves it into the output
// directory under the name for n. It returns the final path.
func (w *Watch) Await(ctx context.Context, n Name) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.c.timeout)
	defer cancel()

	// Filesystem events only shorten the wait; the ticker keeps it correct
	// when the watcher is unavailable.
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if fw, err := fsnotify.NewWatcher(); err == nil {
		defer fw.Close()
		if err := fw.Add(w.c.downloadDir); err == nil {
			events, watchErrs = fw.Events, fw.Errors
		}
	}
	ticker := time.NewTicker(w.c.poll)
	defer ticker.Stop()

	var (
		current     string
		lastSize    int64 = -1
		stableSince time.Time
	)
	for {
		name, size, ok := w.newest()
		switch {
		case !ok:
		case name != current || size != lastSize:
			current, lastSize, stableSince = name, size, time.Now()
		case size > 0 && time.Since(stableSince) >= w.c.stableFor:
			w.seen[name] = struct{}{}
			return w.c.finalize(filepath.Join(w.c.downloadDir, name), n)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w after %s", ErrNoArtifact, w.c.timeout)
		case <-events:
		case err := <-watchErrs:
			w.c.logger.Debug("Download watcher error.", zap.Error(err))
		case <-ticker.C:
		}
	}
}

// newest returns the most recently modified finished download not seen before.
func (w *Watch) newest() (string, int64, bool) {
	entries, err := os.ReadDir(w.c.downloadDir)
	if err != nil {
		return "", 0, false
	}
	var (
		best    string
		bestMod time.Time
		size    int64
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || partial(name) || !w.c.pattern.Match(name) {
			continue
		}
		if _, old := w.seen[name]; old {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod, size = name, info.ModTime(), info.Size()
		}
	}
	return best, size, best != ""
}

func partial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// finalize validates src and moves it to its final name.
func (c *Collector) finalize(src string, n Name) (string, error) {
	if err := checkMagic(src); err != nil {
		return "", err
	}
	if c.validate {
		if err := api.ValidateFile(src, nil); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPDF, err)
		}
	}
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	dst := filepath.Join(c.outputDir, c.FileName(n))
	if err := move(src, dst); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	c.logger.Info("Artifact stored.", zap.String("path", dst))
	return dst, nil
}

func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open download: %w", err)
	}
	defer f.Close()
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return fmt.Errorf("%w: %s", ErrInvalidPDF, filepath.Base(path))
	}
	return nil
}

// move renames src to dst, copying when they are on different filesystems.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Collect watches the download directory, runs trigger and stores the
// download it caused.
func (c *Collector) Collect(ctx context.Context, n Name, trigger func(ctx context.Context) error) (string, error) {
	w, err := c.BeginWatch()
	if err != nil {
		return "", err
	}
	if err := trigger(ctx); err != nil {
		return "", err
	}
	return w.Await(ctx, n)
}
