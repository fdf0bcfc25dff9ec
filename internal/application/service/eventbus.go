package service

import (
	"context"

	"github.com/khoahotran/chatmedia/internal/domain/event"
)

type EventHandler func(ctx context.Context, env event.Envelope)

// EventBus fans events out to subscribers. Publish is fire and forget:
// delivery problems are logged by the implementation, never returned.
type EventBus interface {
	Publish(ctx context.Context, name string, payload any)
	Subscribe(name string, h EventHandler) (cancel func(), err error)
	Close() error
}
