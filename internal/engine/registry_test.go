package engine

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryExclusivePerEvent(t *testing.T) {
	reg := NewRegistry()

	run, release, err := reg.Acquire("Transfer", "0x1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if run.ID == "" || run.Event != "Transfer" {
		t.Fatalf("unexpected run %+v", run)
	}
	if _, _, err := reg.Acquire("Transfer", "0x2"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	_, releaseOther, err := reg.Acquire("Approval", "0x1")
	if err != nil {
		t.Fatalf("other event should acquire: %v", err)
	}
	defer releaseOther()

	release()
	release()
	next, releaseNext, err := reg.Acquire("Transfer", "0x1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	defer releaseNext()
	if next.ID == run.ID {
		t.Fatalf("run ids should be unique")
	}
}

func TestRegistryStaleReleaseKeepsNewRun(t *testing.T) {
	reg := NewRegistry()
	_, first, _ := reg.Acquire("Transfer", "0x1")
	first()
	_, second, _ := reg.Acquire("Transfer", "0x1")
	defer second()

	first()
	if len(reg.Active()) != 1 {
		t.Fatalf("stale release dropped the active run")
	}
}

func TestRegistryActiveOrder(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	reg.nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for _, ev := range []string{"C", "A", "B"} {
		if _, _, err := reg.Acquire(ev, "0x1"); err != nil {
			t.Fatalf("acquire %s: %v", ev, err)
		}
	}
	active := reg.Active()
	if len(active) != 3 || active[0].Event != "C" || active[1].Event != "A" || active[2].Event != "B" {
		t.Fatalf("unexpected order %+v", active)
	}
}
