package skiplist

import (
	"math/rand"
	"testing"
)

func TestSkiplist_InsertRemove(t *testing.T) {
	sl := Make()
	sl.Insert("a", 3)
	sl.Insert("b", 1)
	sl.Insert("c", 2)
	if sl.Len() != 3 {
		t.Errorf("expected len 3, got %d", sl.Len())
	}
	first := sl.First()
	if first == nil || first.Member != "b" || first.Score != 1 {
		t.Error("First should return lowest score")
	}
	if !sl.Remove("b", 1) {
		t.Error("remove existing should return true")
	}
	if sl.Remove("b", 1) {
		t.Error("remove missing should return false")
	}
	first = sl.First()
	if first == nil || first.Member != "c" {
		t.Error("First should return c after removing b")
	}
}

func TestSkiplist_PopUntil(t *testing.T) {
	sl := Make()
	for i := 1; i <= 10; i++ {
		sl.Insert("k"+string(rune('0'+i%10)), int64(i*100))
	}
	popped := sl.PopUntil(500, 0)
	if len(popped) != 5 {
		t.Errorf("expected 5 popped, got %d", len(popped))
	}
	for _, e := range popped {
		if e.Score > 500 {
			t.Errorf("popped element with score %d > 500", e.Score)
		}
	}
	if sl.Len() != 5 {
		t.Errorf("expected 5 remaining, got %d", sl.Len())
	}

	popped = sl.PopUntil(2000, 2)
	if len(popped) != 2 {
		t.Errorf("limit should cap popped count, got %d", len(popped))
	}
}

func TestSkiplist_GetByRank(t *testing.T) {
	sl := Make()
	for i := 1; i <= 100; i++ {
		sl.Insert("m", int64(i))
	}
	e := sl.GetByRank(1)
	if e == nil || e.Score != 1 {
		t.Error("rank 1 should be lowest score")
	}
	e = sl.GetByRank(100)
	if e == nil || e.Score != 100 {
		t.Error("rank 100 should be highest score")
	}
	if sl.GetByRank(101) != nil {
		t.Error("out of range rank should return nil")
	}
}

func TestSkiplist_Sample(t *testing.T) {
	sl := Make()
	for i := 0; i < 50; i++ {
		sl.Insert("k", rand.Int63n(10000))
	}
	sample := sl.Sample(10)
	if len(sample) != 10 {
		t.Errorf("expected 10 samples, got %d", len(sample))
	}
	sample = sl.Sample(100)
	if len(sample) != 50 {
		t.Errorf("oversized sample should be capped at len, got %d", len(sample))
	}
}

func TestSkiplist_Ordering(t *testing.T) {
	sl := Make()
	scores := []int64{5, 3, 8, 1, 9, 2, 7}
	for _, s := range scores {
		sl.Insert("m", s)
	}
	prev := int64(-1)
	for sl.Len() > 0 {
		e := sl.PopUntil(100, 1)[0]
		if e.Score < prev {
			t.Errorf("scores out of order: %d after %d", e.Score, prev)
		}
		prev = e.Score
	}
}
