package docstore

import (
	"errors"
	"testing"
)

func TestSubscriptionLatestWins(t *testing.T) {
	sub := newSubscription(nil)
	for i := 1; i <= 3; i++ {
		docs := make([]Document, i)
		if !sub.push(Snapshot{Docs: docs}) {
			t.Fatalf("push %d rejected", i)
		}
	}

	snap := <-sub.Snapshots()
	if len(snap.Docs) != 3 {
		t.Errorf("got snapshot with %d docs, want the latest (3)", len(snap.Docs))
	}
	select {
	case s := <-sub.Snapshots():
		t.Errorf("unexpected buffered snapshot: %v", s)
	default:
	}
}

func TestSubscriptionClose(t *testing.T) {
	stops := 0
	sub := newSubscription(func() { stops++ })
	sub.Close()
	sub.Close()

	if stops != 1 {
		t.Errorf("stop called %d times, want 1", stops)
	}
	if sub.push(Snapshot{}) {
		t.Error("push after close accepted")
	}
	if _, ok := <-sub.Snapshots(); ok {
		t.Error("channel still open after close")
	}
	if sub.Err() != nil {
		t.Errorf("Err() = %v, want nil", sub.Err())
	}
}

func TestSubscriptionFail(t *testing.T) {
	boom := errors.New("listener lost")
	sub := newSubscription(nil)
	sub.fail(boom)

	if _, ok := <-sub.Snapshots(); ok {
		t.Error("channel still open after fail")
	}
	if !errors.Is(sub.Err(), boom) {
		t.Errorf("Err() = %v, want %v", sub.Err(), boom)
	}
}
