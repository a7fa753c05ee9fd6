// Package writer persists sub-chapters as ordered text files inside a novel
// directory.
package writer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/pevans/novelfetch/segment"
	"github.com/pevans/novelfetch/title"
)

// ErrEmptyBody is returned when a sub-chapter has no text to write.
var ErrEmptyBody = errors.New("empty sub-chapter body")

// SequenceWriter writes sub-chapters under Dir. Filenames sort in the order
// chapters were discovered and segmented.
type SequenceWriter struct {
	fs  afero.Fs
	dir string
}

// New creates a writer rooted at dir on fs.
func New(fs afero.Fs, dir string) *SequenceWriter {
	return &SequenceWriter{fs: fs, dir: dir}
}

// Dir returns the directory files are written to.
func (w *SequenceWriter) Dir() string {
	return w.dir
}

// Filename returns the file name for a sub-chapter:
// 0012_ics_003_Title.txt for split chapters and 0012_Title.txt for whole
// ones. A title with nothing usable left becomes chapter_<ordinal>.
func Filename(sc segment.SubChapter) string {
	name := title.Sanitize(sc.Title)
	if name == "" {
		name = fmt.Sprintf("chapter_%d", sc.Ordinal)
	}

	if tag := sc.Strategy.Tag(); tag != "" {
		return fmt.Sprintf("%04d_%s_%03d_%s.txt", sc.Ordinal, tag, sc.Counter, name)
	}
	return fmt.Sprintf("%04d_%s.txt", sc.Ordinal, name)
}

// Write creates the file for sc, replacing any earlier version, and returns
// its path. The file holds the title, a blank line, then the body.
func (w *SequenceWriter) Write(sc segment.SubChapter) (string, error) {
	if strings.TrimSpace(sc.Body) == "" {
		return "", fmt.Errorf("chapter %d %q: %w", sc.Ordinal, sc.Title, ErrEmptyBody)
	}

	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(w.dir, Filename(sc))
	content := sc.Title + "\n\n" + sc.Body
	if err := afero.WriteFile(w.fs, path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Append adds text to an existing file, separated by a blank line.
func (w *SequenceWriter) Append(path, text string) error {
	f, err := w.fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	if _, err := f.WriteString("\n\n" + strings.TrimSpace(text)); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// Files lists the chapter files in the directory in sort order.
func (w *SequenceWriter) Files() ([]string, error) {
	entries, err := afero.ReadDir(w.fs, w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", w.dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") || !startsWithDigits(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(w.dir, e.Name()))
	}
	return files, nil
}

// startsWithDigits reports whether name begins with a 4-digit ordinal.
func startsWithDigits(name string) bool {
	if len(name) < 5 || name[4] != '_' {
		return false
	}
	for _, c := range name[:4] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
