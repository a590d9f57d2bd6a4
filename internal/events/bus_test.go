package events

import (
	"context"
	"testing"
	"time"
)

func TestBusDeliversAccountVerified(t *testing.T) {
	bus := NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan AccountVerified, 1)
	if err := bus.SubscribeAccountVerified(ctx, func(_ context.Context, ev AccountVerified) error {
		received <- ev
		return nil
	}); err != nil {
		t.Fatalf("SubscribeAccountVerified() error = %v", err)
	}

	want := AccountVerified{AccountID: "acc_1", Email: "alice@example.com", AutoVerified: true}
	if err := bus.PublishAccountVerified(ctx, want); err != nil {
		t.Fatalf("PublishAccountVerified() error = %v", err)
	}

	select {
	case got := <-received:
		if got.AccountID != want.AccountID || got.Email != want.Email || !got.AutoVerified {
			t.Fatalf("event = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
