package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"go.uber.org/zap"
)

// Listener はドメインイベントを受け取る関数です
type Listener func(ctx context.Context, event model.DomainEvent)

// Publisher はドメインイベントを発行するものです
type Publisher interface {
	Publish(ctx context.Context, event model.DomainEvent)
}

// Bus は購読者にドメインイベントを同期的に配信します
// 購読者は登録順に呼び出されます
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id       int
	listener Listener
}

// NewBus は新しいBusを作成します
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe は購読者を登録し、登録を解除する関数を返します
func (b *Bus) Subscribe(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners = append(b.listeners, subscription{id: id, listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.listeners {
				if s.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish はイベントをすべての購読者に配信します
// 購読者のpanicは回復してログに出力し、残りの購読者への配信を続けます
func (b *Bus) Publish(ctx context.Context, event model.DomainEvent) {
	b.mu.RLock()
	listeners := make([]subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, s := range listeners {
		b.deliver(ctx, s.listener, event)
	}
}

func (b *Bus) deliver(ctx context.Context, listener Listener, event model.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("event listener panicked: %v", r),
				zap.String("event", string(event.Type)))
		}
	}()
	listener(ctx, event)
}

// Recorder はイベントを記録するだけの購読者です
type Recorder struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

// Listen は Bus.Subscribe に渡す関数です
func (r *Recorder) Listen(_ context.Context, event model.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events は記録したイベントのコピーを返します
func (r *Recorder) Events() []model.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}
