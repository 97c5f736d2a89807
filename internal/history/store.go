package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const jobsBucket = "jobs"

var ErrNotFound = errors.New("job not found in history")

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is the outcome of one job run. It keeps the planning inputs so a
// failed job can be run again against the same part files.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	URL            string    `json:"url"`
	Dir            string    `json:"dir"`
	Filename       string    `json:"filename"`
	TotalSize      int64     `json:"totalSize"`
	Connections    int       `json:"connections"`
	MaxSegmentSize int64     `json:"maxSegmentSize"`
	SplitOversized bool      `json:"splitOversized,omitempty"`
	Status         Status    `json:"status"`
	FailedSegments []int     `json:"failedSegments,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// Store persists entries in a bolt database keyed by job ID.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Record saves e, replacing any earlier entry for the same job.
func (s *Store) Record(e Entry) error {
	if e.ID == uuid.Nil {
		return errors.New("history entry has no job ID")
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(jobsBucket)).Put([]byte(e.ID.String()), data)
	})
}

func (s *Store) Find(id uuid.UUID) (Entry, error) {
	var entry Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(jobsBucket)).Get([]byte(id.String()))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

// List returns all entries, most recent first.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(jobsBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b Entry) int { return b.FinishedAt.Compare(a.FinishedAt) })
	return entries, nil
}

func (s *Store) Failed() ([]Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(entries, func(e Entry) bool { return e.Status != StatusFailed }), nil
}

func (s *Store) Delete(id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(jobsBucket)).Delete([]byte(id.String()))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
