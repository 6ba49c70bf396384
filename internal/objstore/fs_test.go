package objstore

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestFSStoreMissingFileYieldsEmptyObject(t *testing.T) {
	s := NewFSStore(t.TempDir())

	content, rev, err := s.Get("data/2024-06.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(content) != "{}" {
		t.Errorf("Expected empty object for missing file, got %q", content)
	}
	if rev != "" {
		t.Errorf("Expected absent revision token, got %q", rev)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	s := NewFSStore(t.TempDir())

	rev, err := s.Put("data/2024-06.json", []byte(`{"a":1}`), "")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if rev == "" {
		t.Fatal("Expected a revision token from Put")
	}

	content, gotRev, err := s.Get("data/2024-06.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(content) != `{"a":1}` {
		t.Errorf("Unexpected content %q", content)
	}
	if gotRev != rev {
		t.Errorf("Revision mismatch: Put said %q, Get says %q", rev, gotRev)
	}
}

func TestFSStoreConflictOnStaleRevision(t *testing.T) {
	s := NewFSStore(t.TempDir())

	rev1, err := s.Put("data/2024-06.json", []byte(`{"a":1}`), "")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Second writer updates the file first.
	if _, err := s.Put("data/2024-06.json", []byte(`{"a":2}`), rev1); err != nil {
		t.Fatalf("Conditional update with fresh revision failed: %v", err)
	}

	// The first writer's token is now stale.
	if _, err := s.Put("data/2024-06.json", []byte(`{"a":3}`), rev1); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for stale revision, got %v", err)
	}
}

func TestFSStoreConflictOnCreateRace(t *testing.T) {
	s := NewFSStore(t.TempDir())
	if _, err := s.Put("data/2024-06.json", []byte(`{"a":1}`), ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// A second creator that never saw the file loses.
	if _, err := s.Put("data/2024-06.json", []byte(`{"b":2}`), ""); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict when creating over an existing file, got %v", err)
	}
}

func TestFSStoreConcurrentCreatesAdmitExactlyOne(t *testing.T) {
	s := NewFSStore(t.TempDir())

	const writers = 8
	errs := make(chan error, writers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < writers; i++ {
		go func(i int) {
			start.Wait()
			_, err := s.Put("data/2024-06.json", []byte(`{"writer":`+strconv.Itoa(i)+`}`), "")
			errs <- err
		}(i)
	}
	start.Done()

	wins, conflicts := 0, 0
	for i := 0; i < writers; i++ {
		switch err := <-errs; {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("Unexpected Put error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Errorf("Expected 1 winner and %d conflicts, got %d/%d", writers-1, wins, conflicts)
	}
}

func TestFSStoreConflictWhenExpectedFileDeleted(t *testing.T) {
	s := NewFSStore(t.TempDir())
	if _, err := s.Put("gone.json", []byte(`{}`), "deadbeef"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict when file is missing but a revision was expected, got %v", err)
	}
}

func TestFSStoreList(t *testing.T) {
	s := NewFSStore(t.TempDir())
	if _, err := s.Put("data/2024-05.json", []byte(`{}`), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("data/2024-06.json", []byte(`{}`), ""); err != nil {
		t.Fatal(err)
	}

	names, err := s.List("data")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Expected 2 files, got %v", names)
	}

	names, err = s.List("no-such-dir")
	if err != nil || len(names) != 0 {
		t.Errorf("Expected empty list for missing dir, got %v, %v", names, err)
	}
}
