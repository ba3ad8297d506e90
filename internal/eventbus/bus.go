package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Event 可以发布到总线上的事件
type Event[T comparable] interface {
	EventType() T
}

type Handler[E any] func(ctx context.Context, event E) error

type Bus[T comparable, E Event[T]] struct {
	mutex       sync.RWMutex
	subscribers map[T]map[uint64]Handler[E]
	counter     uint64
}

func NewBus[T comparable, E Event[T]]() *Bus[T, E] {
	return &Bus[T, E]{
		subscribers: make(map[T]map[uint64]Handler[E]),
	}
}

func (b *Bus[T, E]) Subscribe(eventType T, handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[uint64]Handler[E])
	}
	b.subscribers[eventType][id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		handlers, ok := b.subscribers[eventType]
		if ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subscribers, eventType)
			}
		}
		b.mutex.Unlock()
	}
}

// Publish 同步调用全部订阅者，返回合并后的错误
// nil 总线上发布是空操作
func (b *Bus[T, E]) Publish(ctx context.Context, event E) error {
	if b == nil {
		return nil
	}
	b.mutex.RLock()
	handlersMap := b.subscribers[event.EventType()]
	handlers := make([]Handler[E], 0, len(handlersMap))
	for _, handler := range handlersMap {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
