// Package events carries domain events between the account flows and the
// chat subsystem over an in-process watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const TopicAccountVerified = "account.verified"

// AccountVerified is published whenever an account reaches the verified
// state, whether by code or by the auto-verify fallback.
type AccountVerified struct {
	AccountID    string    `json:"accountId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	AutoVerified bool      `json:"autoVerified"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(logger.With("component", "events")),
	)
	return &Bus{pubSub: pubSub, logger: logger.With("component", "events")}
}

func (b *Bus) PublishAccountVerified(ctx context.Context, ev AccountVerified) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding account verified event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubSub.Publish(TopicAccountVerified, msg); err != nil {
		return fmt.Errorf("publishing account verified event: %w", err)
	}
	return nil
}

// SubscribeAccountVerified delivers events to handler until ctx is done.
// Handler failures are logged; events are not redelivered.
func (b *Bus) SubscribeAccountVerified(ctx context.Context, handler func(context.Context, AccountVerified) error) error {
	messages, err := b.pubSub.Subscribe(ctx, TopicAccountVerified)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", TopicAccountVerified, err)
	}

	go func() {
		for msg := range messages {
			var ev AccountVerified
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("dropping malformed event", "topic", TopicAccountVerified, "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			if err := handler(ctx, ev); err != nil {
				b.logger.Error("account verified handler failed", "account_id", ev.AccountID, "error", err)
			}
			msg.Ack()
		}
	}()

	return nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
