package partstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tanq16/segload/internal/segment"
	"github.com/tanq16/segload/internal/utils"
)

const mergeSuffix = ".merging"

// PartPath names the part file of a segment. The name is derived only from the
// filename and byte range, so it is stable across restarts.
func PartPath(dir, filename string, seg segment.Segment) string {
	return filepath.Join(dir, fmt.Sprintf("%s_part%d-%d", filename, seg.Start, seg.End))
}

// ExistingLength returns the size of the file at path and whether it exists.
func ExistingLength(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, fmt.Errorf("part path is a directory: %s", path)
	}
	return info.Size(), true, nil
}

// Reconcile reports how many bytes of seg are already stored at path. A value
// equal to seg.Len() means the segment is complete; a smaller value is a
// prefix to resume from. Oversized parts produce a PartialPartMismatchError.
func Reconcile(path string, seg segment.Segment) (int64, error) {
	size, ok, err := ExistingLength(path)
	if err != nil || !ok {
		return 0, err
	}
	if size > seg.Len() {
		return size, &PartialPartMismatchError{Index: seg.Index, Path: path, Size: size, Expected: seg.Len()}
	}
	return size, nil
}

// Writer appends to a part file. A failed or short write is rolled back to
// the last good length, so the file only ever holds whole increments.
type Writer struct {
	f    *os.File
	path string
	size int64
}

func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening part file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error getting part file info: %w", err)
	}
	return &Writer{f: f, path: path, size: info.Size()}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if terr := w.f.Truncate(w.size); terr != nil {
			return 0, errors.Join(err, fmt.Errorf("rollback of %s failed: %w", w.path, terr))
		}
		return 0, err
	}
	w.size += int64(n)
	return n, nil
}

// Size is the current length of the part file.
func (w *Writer) Size() int64 {
	return w.size
}

// Close flushes the part to stable storage and closes it.
func (w *Writer) Close() error {
	return errors.Join(w.f.Sync(), w.f.Close())
}

// Append writes p to the end of the part at path and syncs before returning.
func Append(path string, p []byte) error {
	w, err := OpenWriter(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(p); err != nil {
		w.f.Close()
		return err
	}
	return w.Close()
}

// Clean removes the part files and any unfinished merge output of filename in dir.
func Clean(dir, filename string) (int, error) {
	log := utils.GetLogger("partstore")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	partName := regexp.MustCompile(`^` + regexp.QuoteMeta(filename) + `_part\d+-\d+$`)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!partName.MatchString(name) && name != filename+mergeSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		log.Debug().Str("file", name).Msg("Removed part file")
		removed++
	}
	return removed, nil
}
