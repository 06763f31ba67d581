package events

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryEventStore_VersionsPerStream(t *testing.T) {
	store := NewInMemoryEventStore(nil)
	ctx := context.Background()

	_ = store.Publish(ctx, "package.created", "pkg-1", "a")
	_ = store.Publish(ctx, "package.activated", "pkg-1", "b")
	_ = store.Publish(ctx, "package.created", "pkg-2", "c")

	events, err := store.ReadEvents("pkg-1", 0)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[1].Version() != 2 || events[1].Type() != "package.activated" {
		t.Errorf("Unexpected second event: %s v%d", events[1].Type(), events[1].Version())
	}

	all, _ := store.ReadAllEvents(1)
	if len(all) != 2 {
		t.Errorf("Expected 2 events from position 1, got %d", len(all))
	}
}

func TestInMemoryEventStore_DeliversToSubscribers(t *testing.T) {
	store := NewInMemoryEventStore(nil)
	var seen []string
	handler := &HandlerFunc{
		Types: []string{"commitment.released"},
		Fn: func(e Event) error {
			seen = append(seen, e.StreamID())
			return errors.New("handler errors are logged only")
		},
	}
	if err := store.Subscribe([]string{"commitment.released"}, handler); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := store.Publish(context.Background(), "commitment.released", "Picking#1", nil); err != nil {
		t.Fatalf("Publish should not surface handler errors: %v", err)
	}
	_ = store.Publish(context.Background(), "commitment.reserved", "Picking#1", nil)

	if len(seen) != 1 || seen[0] != "Picking#1" {
		t.Errorf("Expected one delivery for Picking#1, got %v", seen)
	}
}
