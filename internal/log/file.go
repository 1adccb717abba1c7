package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const filePrefix = "eccs-e2e-"

// FileWriter appends to dir/eccs-e2e-YYYY-MM-DD.jsonl, switching files at
// midnight and keeping dir/latest pointed at the current one.
type FileWriter struct {
	dir      string
	mu       sync.Mutex
	file     *os.File
	currDate string
	now      func() time.Time
}

// NewFileWriter creates dir if needed and opens today's file.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &FileWriter{dir: dir, now: time.Now}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.rotateLocked(fw.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write implements io.Writer.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.file == nil {
		return 0, os.ErrClosed
	}
	if today := fw.now().Format(time.DateOnly); today != fw.currDate {
		if err := fw.rotateLocked(today); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Path returns the file currently written to.
func (fw *FileWriter) Path() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return filepath.Join(fw.dir, fileName(fw.currDate))
}

// Close closes the underlying file. Later writes fail with os.ErrClosed.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

func (fw *FileWriter) rotateLocked(date string) error {
	if fw.file != nil {
		fw.file.Close()
	}
	name := fileName(date)
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	fw.file = f
	fw.currDate = date
	fw.updateSymlink(name)
	return nil
}

// updateSymlink is best effort: a missing link only costs convenience.
func (fw *FileWriter) updateSymlink(target string) {
	link := filepath.Join(fw.dir, "latest")
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return
	}
	_ = os.Rename(tmp, link)
}

func fileName(date string) string {
	return filePrefix + date + ".jsonl"
}

var datePattern = regexp.MustCompile(`^` + filePrefix + `(\d{4}-\d{2}-\d{2})\.jsonl$`)

// Cleanup removes log files in dir older than retentionDays. Files not
// named like ours are left alone.
func Cleanup(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := datePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		fileDate, err := time.Parse(time.DateOnly, m[1])
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
