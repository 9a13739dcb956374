package seqcounter

import (
	"context"
	"sync"
	"testing"

	"github.com/fieldline/fieldline/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := New(db)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestReadMissingKeyIsZero(t *testing.T) {
	s := testStore(t)
	v, err := s.Read(context.Background(), JobKey("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("value = %d, want 0", v)
	}
}

func TestIncrementRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := JobKey("job_1")

	for i := 1; i <= 3; i++ {
		if err := s.Increment(ctx, key); err != nil {
			t.Fatal(err)
		}
		v, err := s.Read(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if v != int64(i) {
			t.Fatalf("after %d increments value = %d", i, v)
		}
	}

	// Other keys are unaffected.
	v, err := s.Read(ctx, OwnerKey("mgr_1"))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("unrelated key = %d, want 0", v)
	}
}

func TestKeyNamespaces(t *testing.T) {
	if JobKey("x") == OwnerKey("x") {
		t.Fatal("job and owner keys must not collide")
	}
}

// TestMonotonicUnderConcurrency checks that reads never decrease while many
// goroutines increment the same key, and that no increment is lost.
func TestMonotonicUnderConcurrency(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := JobKey("job_hot")

	const workers = 8
	const bumps = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < bumps; i++ {
				if err := s.Increment(ctx, key); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	// Concurrent reader asserting monotonicity.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last int64
		for i := 0; i < 200; i++ {
			v, err := s.Read(ctx, key)
			if err != nil {
				t.Error(err)
				return
			}
			if v < last {
				t.Errorf("counter regressed: %d -> %d", last, v)
				return
			}
			last = v
		}
	}()

	wg.Wait()
	<-done

	v, err := s.Read(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if v != workers*bumps {
		t.Fatalf("final value = %d, want %d", v, workers*bumps)
	}
}

func TestDegradedStoreReturnsError(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s := New(db)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	db.Close()

	ctx := context.Background()
	if err := s.Increment(ctx, JobKey("j")); err == nil {
		t.Fatal("expected error from closed database")
	}
	v, err := s.Read(ctx, JobKey("j"))
	if err == nil {
		t.Fatal("expected error from closed database")
	}
	if v != 0 {
		t.Fatalf("degraded read value = %d, want 0", v)
	}
}
