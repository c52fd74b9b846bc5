// Package slides writes captured slides to disk, removes duplicates and
// assembles the survivors into a PDF.
package slides

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

const (
	// JPEGQuality is the fixed encoder quality of every slide.
	JPEGQuality = 75
	// Ext is the slide file extension.
	Ext = ".jpg"

	dirPerm = 0o755
)

// FileName returns the slide file name for a 1-based sequence number.
func FileName(seq int) string {
	return fmt.Sprintf("%03d", seq) + Ext
}

// PrepareDir returns <outRoot>/<video stem>/<classifier>, removing any previous
// run's output first.
func PrepareDir(videoPath, outRoot, classifier string) (string, error) {
	stem := filepath.Base(videoPath)
	if i := strings.Index(stem, "."); i > 0 {
		stem = stem[:i]
	}
	dir := filepath.Join(outRoot, stem, classifier)

	if err := os.RemoveAll(dir); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "clear output dir %s", dir)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "create output dir %s", dir)
	}
	slog.Info("output directory created", "path", dir)
	return dir, nil
}

// Writer stores slides in a single directory.
type Writer struct {
	dir     string
	quality int
}

// NewWriter creates a writer for an existing directory.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, quality: JPEGQuality}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns the full path of the slide with the given file name.
func (w *Writer) Path(name string) string { return filepath.Join(w.dir, name) }

// Write encodes img as slide seq and returns its file name.
func (w *Writer) Write(seq int, img image.Image) (string, error) {
	name := FileName(seq)
	f, err := os.Create(w.Path(name))
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "create %s", name)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: w.quality}); err != nil {
		f.Close()
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "encode %s", name)
	}
	if err := f.Close(); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "close %s", name)
	}
	return name, nil
}

// RemoveDuplicates deletes the named slides and returns how many were removed.
// Files that are already gone are logged and skipped.
func (w *Writer) RemoveDuplicates(names []string) int {
	removed := 0
	for _, name := range names {
		err := os.Remove(w.Path(name))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("duplicate already removed", "file", name)
		default:
			slog.Error("failed to remove duplicate", "file", name, "error", err)
		}
	}
	return removed
}

// RemoveImages deletes every slide image in the directory, leaving other files
// (such as the PDF) in place.
func (w *Writer) RemoveImages() error {
	images, err := ListImages(w.dir)
	if err != nil {
		return err
	}
	for _, p := range images {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.Wrapf(err, apperrors.CodeWriteFailed, "remove %s", p)
		}
	}
	return nil
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ListImages returns the image files in dir sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrapf(err, apperrors.CodeNotFound, "image directory %s does not exist", dir)
		}
		return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "read %s", dir)
	}

	// ReadDir already sorts by file name.
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
