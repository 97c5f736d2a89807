package partstore

import "fmt"

// MissingPartError means a part file required for merging is not on disk.
type MissingPartError struct {
	Index int
	Path  string
}

func (e *MissingPartError) Error() string {
	return fmt.Sprintf("part file for segment %d is missing: %s", e.Index, e.Path)
}

// PartialPartMismatchError means a part file has a length that is not a valid
// prefix of its segment. Such a file is reported and left untouched.
type PartialPartMismatchError struct {
	Index    int
	Path     string
	Size     int64
	Expected int64
}

func (e *PartialPartMismatchError) Error() string {
	return fmt.Sprintf("part file for segment %d has %d bytes, segment length is %d: %s", e.Index, e.Size, e.Expected, e.Path)
}
