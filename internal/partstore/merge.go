package partstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/tanq16/segload/internal/segment"
	"github.com/tanq16/segload/internal/utils"
)

// Merge concatenates the parts of segments, in ascending index order, into
// dir/filename and returns its path. Every part must be present and complete
// before anything is written. The output is assembled under a temporary name
// and renamed into place once synced; parts are deleted only after that, so an
// interrupted merge leaves them available for the next run.
func Merge(dir, filename string, segments []segment.Segment) (string, error) {
	log := utils.GetLogger("merge")
	ordered := slices.Clone(segments)
	slices.SortFunc(ordered, func(a, b segment.Segment) int { return a.Index - b.Index })

	var expected int64
	for _, seg := range ordered {
		path := PartPath(dir, filename, seg)
		size, ok, err := ExistingLength(path)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", &MissingPartError{Index: seg.Index, Path: path}
		}
		if size != seg.Len() {
			return "", &PartialPartMismatchError{Index: seg.Index, Path: path, Size: size, Expected: seg.Len()}
		}
		expected += size
	}

	finalPath := filepath.Join(dir, filename)
	tempPath := finalPath + mergeSuffix
	written, err := copyParts(tempPath, dir, filename, ordered)
	if err != nil {
		os.Remove(tempPath)
		return "", err
	}
	if written != expected {
		os.Remove(tempPath)
		return "", fmt.Errorf("total written bytes (%d) doesn't match expected size (%d)", written, expected)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("error finalizing output file: %w", err)
	}

	for _, seg := range ordered {
		if err := os.Remove(PartPath(dir, filename, seg)); err != nil {
			log.Warn().Err(err).Int("segment", seg.Index).Msg("Could not remove part file after merge")
		}
	}
	log.Debug().Int64("totalBytes", written).Str("outputFile", finalPath).Int("parts", len(ordered)).Msg("Merge completed")
	return finalPath, nil
}

func copyParts(tempPath, dir, filename string, ordered []segment.Segment) (int64, error) {
	dest, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %w", err)
	}
	var total int64
	for _, seg := range ordered {
		path := PartPath(dir, filename, seg)
		part, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			dest.Close()
			return total, &MissingPartError{Index: seg.Index, Path: path}
		}
		if err != nil {
			dest.Close()
			return total, fmt.Errorf("error opening part file %s: %w", path, err)
		}
		n, err := io.Copy(dest, part)
		part.Close()
		total += n
		if err != nil {
			dest.Close()
			return total, fmt.Errorf("error copying segment %d: %w", seg.Index, err)
		}
		if n != seg.Len() {
			dest.Close()
			return total, &PartialPartMismatchError{Index: seg.Index, Path: path, Size: n, Expected: seg.Len()}
		}
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return total, fmt.Errorf("error syncing output file: %w", err)
	}
	return total, dest.Close()
}
