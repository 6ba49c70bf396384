// Package objstore abstracts the versioned JSON file store the aggregation
// layer writes through. Files are read back with a revision token; conditional
// writes with a stale token fail with ErrConflict so that racing writers can
// re-read, re-merge and retry instead of silently clobbering each other.
package objstore

import "errors"

// ErrConflict is returned by Put when the expected revision token no longer
// matches the stored file, meaning another writer got there first.
var ErrConflict = errors.New("objstore: revision conflict")

// emptyObject is what Get reports for a missing file: callers always receive
// decodable JSON and an absent revision token.
var emptyObject = []byte("{}")

// Store is a versioned file store.
type Store interface {
	// Get returns the file's content and its revision token. A missing file
	// is not an error: it yields an empty JSON object and an empty token.
	Get(path string) (content []byte, revision string, err error)

	// Put writes content. An empty expectedRevision creates the file and
	// conflicts if it already exists; otherwise the write only succeeds if
	// the stored revision still equals expectedRevision, else ErrConflict.
	Put(path string, content []byte, expectedRevision string) (newRevision string, err error)

	// List returns the file names (not full paths) directly under dir.
	// A missing directory yields an empty list.
	List(dir string) ([]string, error)
}
