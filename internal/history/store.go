// Package history persists practice-session results as append-only JSON
// lines in a local file, so a student can see which lessons they practised
// and which vocabulary kept slipping.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is a single practice-session entry written to the file store.
type Record struct {
	Timestamp   time.Time     `json:"timestamp"`
	SessionID   string        `json:"session_id"`
	Lesson      string        `json:"lesson"`
	Language    string        `json:"language"`
	Duration    time.Duration `json:"duration"`
	WordsUsed   []string      `json:"words_used,omitempty"`
	WordsMissed []string      `json:"words_missed,omitempty"`
}

// FileStore persists practice records as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first save if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends a practice record to the file.
func (fs *FileStore) Save(rec Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// Load reads all records from the file, oldest first. A missing file yields
// an empty slice. Corrupt lines are skipped.
func (fs *FileStore) Load() ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}
	return records, nil
}

// LastPractice reports how many of the given records belong to the named
// lesson and when it was last practised. The zero time means never.
func LastPractice(records []Record, lesson string) (count int, last time.Time) {
	for _, rec := range records {
		if rec.Lesson != lesson {
			continue
		}
		count++
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	return count, last
}
