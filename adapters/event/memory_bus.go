package event

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	domainevent "github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

const DefaultBufferSize = 256

type subscription struct {
	ch   chan domainevent.Envelope
	done chan struct{}
}

// MemoryBus is an in-process bus. Every subscriber owns a buffered channel
// drained by its own goroutine; a full buffer drops the event.
type MemoryBus struct {
	log    logger.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[string]*subscription
	closed bool
}

var _ service.EventBus = (*MemoryBus)(nil)

func NewMemoryBus(log logger.Logger, buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &MemoryBus{
		log:    log,
		buffer: buffer,
		subs:   map[string]map[string]*subscription{},
	}
}

func (b *MemoryBus) Publish(ctx context.Context, name string, payload any) {
	env, err := domainevent.NewEnvelope(name, payload)
	if err != nil {
		b.log.Error("Failed to encode event", err, zap.String("event", name))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs[name] {
		select {
		case sub.ch <- env:
		default:
			b.log.Warn("Event subscriber is slow, dropping event", zap.String("event", name), zap.String("subscriber", id))
		}
	}
}

// Subscribe registers h for name. The returned cancel waits for an
// in-flight call to finish, so it must not be called from inside h.
func (b *MemoryBus) Subscribe(name string, h service.EventHandler) (func(), error) {
	id := uuid.NewString()
	sub := &subscription{
		ch:   make(chan domainevent.Envelope, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBusClosed
	}
	if b.subs[name] == nil {
		b.subs[name] = map[string]*subscription{}
	}
	b.subs[name][id] = sub
	b.mu.Unlock()

	go b.drain(name, sub, h)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[name]; subs != nil {
				if _, ok := subs[id]; ok {
					delete(subs, id)
					close(sub.ch)
				}
				if len(subs) == 0 {
					delete(b.subs, name)
				}
			}
			b.mu.Unlock()
			<-sub.done
		})
	}
	return cancel, nil
}

func (b *MemoryBus) drain(name string, sub *subscription, h service.EventHandler) {
	defer close(sub.done)
	for env := range sub.ch {
		dispatch(b.log, name, h, env)
	}
}

// Close stops every subscriber after its buffered events are handled.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var pending []*subscription
	for name, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
			pending = append(pending, sub)
		}
		delete(b.subs, name)
	}
	b.mu.Unlock()

	for _, sub := range pending {
		<-sub.done
	}
	return nil
}

// dispatch runs one handler call and keeps a panicking subscriber from
// taking the process down.
func dispatch(log logger.Logger, name string, h service.EventHandler, env domainevent.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Event handler panicked", nil, zap.String("event", name), zap.Any("panic", r))
		}
	}()
	h(context.Background(), env)
}
