package alerts

import (
	"testing"
	"time"

	"tickwatch/internal/model"
)

func record(seq uint64, at time.Time) Record {
	return Record{
		Message:    model.AlertMessage{WindowSequenceID: seq, BatchID: "b"},
		Outcome:    "delivered",
		Attempts:   1,
		RecordedAt: at,
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	base := time.Unix(1700000000, 0).UTC()
	for i := 1; i <= 5; i++ {
		s.Add(record(uint64(i), base.Add(time.Duration(i)*time.Second)))
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	got := s.List(0)
	for i, rec := range got {
		if want := uint64(i + 3); rec.Message.WindowSequenceID != want {
			t.Fatalf("record %d is window %d, want %d", i, rec.Message.WindowSequenceID, want)
		}
	}
}

func TestListLimitsToNewest(t *testing.T) {
	s := NewStore(10)
	base := time.Unix(1700000000, 0).UTC()
	for i := 1; i <= 5; i++ {
		s.Add(record(uint64(i), base.Add(time.Duration(i)*time.Second)))
	}
	got := s.List(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message.WindowSequenceID != 4 || got[1].Message.WindowSequenceID != 5 {
		t.Fatalf("got windows %d, %d; want 4, 5", got[0].Message.WindowSequenceID, got[1].Message.WindowSequenceID)
	}
}

func TestSinceIsInclusive(t *testing.T) {
	s := NewStore(10)
	base := time.Unix(1700000000, 0).UTC()
	for i := 1; i <= 4; i++ {
		s.Add(record(uint64(i), base.Add(time.Duration(i)*time.Second)))
	}
	got := s.Since(base.Add(3 * time.Second))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message.WindowSequenceID != 3 {
		t.Fatalf("cutoff record excluded")
	}
}

func TestAddStampsRecordedAt(t *testing.T) {
	s := NewStore(2)
	s.Add(Record{Message: model.AlertMessage{WindowSequenceID: 1}})
	if s.List(0)[0].RecordedAt.IsZero() {
		t.Fatalf("recorded_at not stamped")
	}
}

func TestClear(t *testing.T) {
	s := NewStore(2)
	s.Add(record(1, time.Now().UTC()))
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("len = %d after clear", s.Len())
	}
}
