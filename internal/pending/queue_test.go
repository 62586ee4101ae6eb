package pending

import (
	"testing"
	"time"
)

func TestEnqueueDedup(t *testing.T) {
	q := New()

	if !q.Enqueue("a.txt") {
		t.Fatal("first Enqueue returned false")
	}
	if q.Enqueue("a.txt") {
		t.Fatal("duplicate Enqueue returned true")
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

func TestDrainKeepsDedupUntilForget(t *testing.T) {
	q := New()
	q.Enqueue("a.txt")

	batch := q.Drain()
	if len(batch) != 1 || batch[0] != "a.txt" {
		t.Fatalf("Drain = %v, want [a.txt]", batch)
	}

	// In flight: a re-release must not double enqueue.
	if q.Enqueue("a.txt") {
		t.Fatal("Enqueue succeeded while name in flight")
	}

	q.Forget("a.txt")
	if !q.Enqueue("a.txt") {
		t.Fatal("Enqueue failed after Forget")
	}
}

func TestDrainOrder(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	batch := q.Drain()
	if len(batch) != 3 || batch[0] != "a" || batch[1] != "b" || batch[2] != "c" {
		t.Fatalf("Drain = %v, want [a b c]", batch)
	}
	if q.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", q.Len())
	}
}

func TestNoDuplicatesAcrossInterleavings(t *testing.T) {
	q := New()

	q.Enqueue("x")
	q.Enqueue("y")
	q.Enqueue("x")
	batch := q.Drain()
	q.Enqueue("x") // still in flight
	q.Forget(batch...)
	q.Enqueue("x")

	all := append(batch, q.Drain()...)
	seen := make(map[string]int)
	for _, n := range all {
		seen[n]++
	}
	if seen["x"] != 2 || seen["y"] != 1 {
		t.Fatalf("delivery counts = %v, want x:2 y:1", seen)
	}
}

func TestDiscard(t *testing.T) {
	q := New()
	q.Enqueue("keep")
	q.Enqueue("drop")

	q.Discard("drop")
	batch := q.Drain()
	if len(batch) != 1 || batch[0] != "keep" {
		t.Fatalf("Drain = %v, want [keep]", batch)
	}

	// Discarded names may be enqueued again.
	if !q.Enqueue("drop") {
		t.Fatal("Enqueue failed after Discard")
	}
}

func TestWaitWakesOnEnqueue(t *testing.T) {
	q := New()

	woke := make(chan bool, 1)
	go func() {
		woke <- q.Wait()
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue("a")

	select {
	case ok := <-woke:
		if !ok {
			t.Fatal("Wait returned false with items queued")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on Enqueue")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	q := New()

	woke := make(chan bool, 1)
	go func() {
		woke <- q.Wait()
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-woke:
		if ok {
			t.Fatal("Wait returned true on a closed empty queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on Close")
	}

	if q.Enqueue("late") {
		t.Fatal("Enqueue succeeded after Close")
	}
}

func TestWaitDrainsRemainderAfterClose(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Close()

	if !q.Wait() {
		t.Fatal("Wait returned false with items still queued")
	}
	if batch := q.Drain(); len(batch) != 1 {
		t.Fatalf("Drain = %v, want one item", batch)
	}
	if q.Wait() {
		t.Fatal("Wait returned true on closed empty queue")
	}
}
