package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFake(start)
	if !f.Now().Equal(start) {
		t.Fatalf("now=%v, want %v", f.Now(), start)
	}
	f.Advance(90 * time.Second)
	if got := f.Now().Sub(start); got != 90*time.Second {
		t.Fatalf("advanced by %v", got)
	}
	f.Set(start)
	if !f.Now().Equal(start) {
		t.Fatalf("set failed: %v", f.Now())
	}
}

func TestReal_Moves(t *testing.T) {
	t.Parallel()

	c := Real()
	a := c.Now()
	time.Sleep(time.Millisecond)
	if !c.Now().After(a) {
		t.Fatalf("real clock did not advance")
	}
}
