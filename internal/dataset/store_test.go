package dataset

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"score-cloud/internal/objstore"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(objstore.NewFSStore(t.TempDir()), "data", 45)
	s.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestMergeDailyResultCreatesRecord(t *testing.T) {
	s := testStore(t)

	count, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{
		"alice": {Score: 50, IsExceed: true},
	})
	if err != nil {
		t.Fatalf("MergeDailyResult failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 user in dataset, got %d", count)
	}

	ds, _, err := s.load("2024-06")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rec, ok := ds["auto_alice"]
	if !ok {
		t.Fatal("Expected record auto_alice")
	}
	if rec.UserIndex != 1 {
		t.Errorf("Expected userIndex 1, got %d", rec.UserIndex)
	}
	if rec.DeviceID != DeviceIDHarvester {
		t.Errorf("Expected deviceId %q, got %q", DeviceIDHarvester, rec.DeviceID)
	}
	if rec.DailyScores["2024-06-01"] != 50 {
		t.Errorf("Expected score 50 for 2024-06-01, got %d", rec.DailyScores["2024-06-01"])
	}
	if rec.MonthlyTotal != 50 {
		t.Errorf("Expected monthlyTotal 50, got %d", rec.MonthlyTotal)
	}
	if rec.ExceedDays != 1 {
		t.Errorf("Expected exceedDays 1, got %d", rec.ExceedDays)
	}
}

func TestMergeDailyResultIsIdempotent(t *testing.T) {
	s := testStore(t)
	results := map[string]DayResult{
		"alice": {Score: 50, IsExceed: true},
		"bob":   {Score: 20},
	}

	if _, err := s.MergeDailyResult("2024-06-01", results); err != nil {
		t.Fatal(err)
	}
	first, _, err := s.load("2024-06")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.MergeDailyResult("2024-06-01", results); err != nil {
		t.Fatal(err)
	}
	second, _, err := s.load("2024-06")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Re-merging identical results changed the dataset:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if second["auto_alice"].MonthlyTotal != 50 {
		t.Errorf("Expected monthlyTotal to stay 50, got %d", second["auto_alice"].MonthlyTotal)
	}
}

func TestMergeDailyResultOverwritesSameDate(t *testing.T) {
	s := testStore(t)

	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 50}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 30}}); err != nil {
		t.Fatal(err)
	}

	ds, _, _ := s.load("2024-06")
	rec := ds["auto_alice"]
	if rec.DailyScores["2024-06-01"] != 30 {
		t.Errorf("Expected re-ingestion to overwrite, got %d", rec.DailyScores["2024-06-01"])
	}
	if rec.MonthlyTotal != 30 {
		t.Errorf("Expected monthlyTotal recomputed to 30, got %d", rec.MonthlyTotal)
	}
	if rec.ExceedDays != 0 {
		t.Errorf("Expected exceedDays recomputed to 0, got %d", rec.ExceedDays)
	}
}

func TestUserIndexStability(t *testing.T) {
	s := testStore(t)

	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 10}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeDailyResult("2024-06-02", map[string]DayResult{
		"bob":   {Score: 20},
		"carol": {Score: 30},
	}); err != nil {
		t.Fatal(err)
	}
	// Re-reference alice after others joined.
	if _, err := s.MergeDailyResult("2024-06-03", map[string]DayResult{"alice": {Score: 40}}); err != nil {
		t.Fatal(err)
	}

	ds, _, _ := s.load("2024-06")
	if ds["auto_alice"].UserIndex != 1 {
		t.Errorf("Expected alice to keep index 1, got %d", ds["auto_alice"].UserIndex)
	}
	if ds["auto_bob"].UserIndex != 2 || ds["auto_carol"].UserIndex != 3 {
		t.Errorf("Expected deterministic indices 2 and 3, got bob=%d carol=%d",
			ds["auto_bob"].UserIndex, ds["auto_carol"].UserIndex)
	}
}

func TestDerivedFieldsNeverDrift(t *testing.T) {
	s := testStore(t)

	dates := []string{"2024-06-01", "2024-06-02", "2024-06-03", "2024-06-02", "2024-06-01"}
	scores := []int{50, 46, 10, 46, 50}
	for i, d := range dates {
		if _, err := s.MergeDailyResult(d, map[string]DayResult{"alice": {Score: scores[i]}}); err != nil {
			t.Fatal(err)
		}
	}

	ds, _, _ := s.load("2024-06")
	rec := ds["auto_alice"]

	wantTotal := 0
	wantExceed := 0
	for _, score := range rec.DailyScores {
		wantTotal += score
		if score > 45 {
			wantExceed++
		}
	}
	if rec.MonthlyTotal != wantTotal {
		t.Errorf("monthlyTotal drifted: stored %d, recomputed %d", rec.MonthlyTotal, wantTotal)
	}
	if rec.ExceedDays != wantExceed {
		t.Errorf("exceedDays drifted: stored %d, recomputed %d", rec.ExceedDays, wantExceed)
	}
}

func TestUpsertFromUploadPreservesIndexAndCountsUploads(t *testing.T) {
	s := testStore(t)

	first, err := s.UpsertFromUpload(UploadRequest{
		DeviceID:    "phone-1",
		UserName:    "alice",
		YearMonth:   "2024-06",
		DailyScores: map[string]int{"2024-06-01": 50, "2024-06-02": 10},
	})
	if err != nil {
		t.Fatalf("UpsertFromUpload failed: %v", err)
	}
	if first.MonthlyTotal != 60 {
		t.Errorf("Expected monthlyTotal 60, got %d", first.MonthlyTotal)
	}
	if first.UserIndex != 1 {
		t.Errorf("Expected userIndex 1, got %d", first.UserIndex)
	}

	// The second upload supplies the whole map again, smaller this time.
	second, err := s.UpsertFromUpload(UploadRequest{
		DeviceID:    "phone-1",
		UserName:    "alice",
		YearMonth:   "2024-06",
		DailyScores: map[string]int{"2024-06-01": 20},
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.UserIndex != 1 {
		t.Errorf("Expected index preserved, got %d", second.UserIndex)
	}
	if second.MonthlyTotal != 20 {
		t.Errorf("Expected wholesale replacement total 20, got %d", second.MonthlyTotal)
	}

	ds, _, _ := s.load("2024-06")
	rec := ds["phone-1_alice"]
	if rec.UploadCount != 2 {
		t.Errorf("Expected uploadCount 2, got %d", rec.UploadCount)
	}
	if len(rec.DailyScores) != 1 {
		t.Errorf("Expected dailyScores replaced wholesale, got %v", rec.DailyScores)
	}
}

func TestApplyRollupMergesWithoutRegressingDailyScores(t *testing.T) {
	s := testStore(t)

	// The harvest path wrote a day the rollup never saw.
	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 50}}); err != nil {
		t.Fatal(err)
	}

	_, err := s.ApplyRollup("2024-06", []RollupUserStats{
		{
			UserName:    "alice",
			Rank:        1,
			DailyScores: map[string]int{"2024-06-02": 30},
			TotalScore:  80,
			AvgScore:    40.0,
			MaxScore:    50,
			MinScore:    30,
			TotalDays:   2,
			ExceedDays:  1,
			FirstDate:   "2024-06-01",
		},
	})
	if err != nil {
		t.Fatalf("ApplyRollup failed: %v", err)
	}

	ds, _, _ := s.load("2024-06")
	rec := ds["auto_alice"]
	if rec.DailyScores["2024-06-01"] != 50 {
		t.Errorf("Rollup regressed a previously merged day: %v", rec.DailyScores)
	}
	if rec.DailyScores["2024-06-02"] != 30 {
		t.Errorf("Rollup day not merged: %v", rec.DailyScores)
	}
	if rec.MonthlyTotal != 80 || rec.ExceedDays != 1 {
		t.Errorf("Derived fields not overwritten: total=%d exceed=%d", rec.MonthlyTotal, rec.ExceedDays)
	}
	if rec.MonthlyStats == nil || rec.MonthlyStats.AvgScore != 40.0 {
		t.Errorf("Expected monthlyStats from rollup, got %+v", rec.MonthlyStats)
	}
	if rec.UserIndex != 1 {
		t.Errorf("Expected existing index preserved, got %d", rec.UserIndex)
	}
}

func TestQuerySortsByIndexAndAnnotatesExceeds(t *testing.T) {
	s := testStore(t)

	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{
		"zoe":   {Score: 50},
		"alice": {Score: 10},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeDailyResult("2024-06-02", map[string]DayResult{"zoe": {Score: 60}}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Query("2024-06")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.TotalUsers != 2 {
		t.Fatalf("Expected 2 users, got %d", res.TotalUsers)
	}
	for i := 1; i < len(res.Users); i++ {
		if res.Users[i-1].UserIndex > res.Users[i].UserIndex {
			t.Errorf("Users not sorted by index: %d before %d", res.Users[i-1].UserIndex, res.Users[i].UserIndex)
		}
	}

	var zoe *QueriedUser
	for i := range res.Users {
		if res.Users[i].UserName == "zoe" {
			zoe = &res.Users[i]
		}
	}
	if zoe == nil {
		t.Fatal("zoe missing from query result")
	}
	want := []ExceedDate{
		{Date: "2024-06-01", Score: 50, Limit: 45},
		{Date: "2024-06-02", Score: 60, Limit: 45},
	}
	if !reflect.DeepEqual(zoe.ExceedDates, want) {
		t.Errorf("Exceed annotation mismatch: got %+v, want %+v", zoe.ExceedDates, want)
	}
}

func TestQueryEmptyMonth(t *testing.T) {
	s := testStore(t)
	res, err := s.Query("2099-01")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.TotalUsers != 0 || len(res.Users) != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestDecodeDatasetSkipsLegacyRecords(t *testing.T) {
	content := []byte(`{
		"auto_alice": {"userName": "alice", "userIndex": 1, "deviceId": "github-actions", "dailyScores": {"2024-06-01": 5}},
		"legacy": "not-an-object",
		"auto_broken": {"userIndex": 2}
	}`)
	ds, err := decodeDataset(content)
	if err != nil {
		t.Fatalf("decodeDataset failed: %v", err)
	}
	if len(ds) != 1 {
		t.Errorf("Expected only the valid record to survive, got %d", len(ds))
	}
	if _, ok := ds["auto_alice"]; !ok {
		t.Error("Expected auto_alice to survive")
	}
}

func TestKnownNamesSpansMonths(t *testing.T) {
	s := testStore(t)
	if _, err := s.MergeDailyResult("2024-05-31", map[string]DayResult{"alice": {Score: 1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"bob": {Score: 2}}); err != nil {
		t.Fatal(err)
	}

	names, err := s.KnownNames()
	if err != nil {
		t.Fatalf("KnownNames failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"alice", "bob"}) {
		t.Errorf("Expected [alice bob], got %v", names)
	}
}

// conflictStore wraps an FSStore and forces the first N conditional writes to
// collide, simulating a racing writer.
type conflictStore struct {
	objstore.Store
	remaining int
}

func (c *conflictStore) Put(path string, content []byte, expectedRevision string) (string, error) {
	if c.remaining > 0 {
		c.remaining--
		return "", objstore.ErrConflict
	}
	return c.Store.Put(path, content, expectedRevision)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	inner := objstore.NewFSStore(t.TempDir())
	s := NewStore(&conflictStore{Store: inner, remaining: 2}, "data", 45)
	s.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }

	count, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 5}})
	if err != nil {
		t.Fatalf("Expected retries to absorb 2 conflicts, got %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 user, got %d", count)
	}
}

func TestUpdateGivesUpAfterBoundedConflicts(t *testing.T) {
	inner := objstore.NewFSStore(t.TempDir())
	s := NewStore(&conflictStore{Store: inner, remaining: 99}, "data", 45)
	s.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }

	_, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 5}})
	if err == nil {
		t.Fatal("Expected an error after exhausting conflict retries")
	}
	if errors.Is(err, objstore.ErrConflict) {
		// The terminal error describes exhaustion, not the raw conflict.
		t.Errorf("Expected a terminal exhaustion error, got raw conflict: %v", err)
	}
}

func TestDatasetJSONShape(t *testing.T) {
	s := testStore(t)
	if _, err := s.MergeDailyResult("2024-06-01", map[string]DayResult{"alice": {Score: 50, IsExceed: true}}); err != nil {
		t.Fatal(err)
	}

	content, _, err := objstoreGet(s)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(content, &raw); err != nil {
		t.Fatalf("Dataset file is not an object of objects: %v", err)
	}
	rec := raw["auto_alice"]
	for _, key := range []string{"userName", "userIndex", "deviceId", "dailyScores", "monthlyTotal", "exceedDays"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("Expected field %q in persisted record, got %v", key, rec)
		}
	}
}

func objstoreGet(s *Store) ([]byte, string, error) {
	return s.store.Get(s.path("2024-06"))
}
