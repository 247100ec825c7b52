// Package journal implements the persistent operation journal: at most
// one live entry surviving a restart, so that a crash mid-operation
// always surfaces an explicit failure status rather than leaving the
// cloud waiting forever.
//
// Backed by go.etcd.io/bbolt, an embedded single-file KV store — a
// natural fit for a store that ever holds at most one entry.
package journal

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Kind identifies which response topic and status-mapping an in-flight
// operation belongs to.
type Kind string

const (
	KindSoftwareList   Kind = "list"
	KindSoftwareUpdate Kind = "update"
	KindRestart        Kind = "restart"
)

// Entry is the operation journal entry: an operation id paired with
// its kind.
type Entry struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

var (
	bucketName = []byte("journal")
	entryKey   = []byte("current")
)

// Journal wraps a bbolt database holding at most one Entry.
type Journal struct {
	db *bolt.DB
}

// Open creates or opens the journal file at path, ensuring its bucket
// exists.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init %q: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Write persists entry as the live operation. Contract: callers must
// write before publishing the Executing status.
func (j *Journal) Write(entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(entryKey, payload)
	})
}

// Clear removes the live entry. Contract: callers must clear after the
// terminal status has been published.
func (j *Journal) Clear() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(entryKey)
	})
}

// Read returns the live entry, if any. Corruption or absence is treated
// as "no live operation" (ok=false, err=nil) rather than propagated as
// a startup failure — a damaged journal must never prevent the mapper
// from starting.
func (j *Journal) Read() (entry Entry, ok bool, err error) {
	var payload []byte
	readErr := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(entryKey)
		if v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if readErr != nil {
		return Entry{}, false, nil
	}
	if payload == nil {
		return Entry{}, false, nil
	}
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, nil
	}
	if entry.ID == "" {
		return Entry{}, false, nil
	}
	return entry, true, nil
}
