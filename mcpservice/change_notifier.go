package mcpservice

import (
	"context"
	"sync"

	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// ChangeNotifier is an in-process fan-out of change signals. Containers embed
// one to drive list-changed notifications.
type ChangeNotifier struct {
	mu          sync.RWMutex
	subscribers []chan struct{}
	closed      bool
}

// Notify signals every subscriber. Delivery is best-effort: a subscriber that
// has not consumed the previous signal does not receive a second one.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.RLock()
	defer cn.mu.RUnlock()

	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// ChangeSubscriber is implemented by containers that signal changes.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Subscriber returns a channel that receives a signal whenever Notify is
// called.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}

// Unsubscribe removes ch. It is a no-op for unknown channels.
func (cn *ChangeNotifier) Unsubscribe(ch <-chan struct{}) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	for i, sub := range cn.subscribers {
		if sub == ch {
			cn.subscribers = append(cn.subscribers[:i], cn.subscribers[i+1:]...)
			return
		}
	}
}

// listChangedFromSubscriber adapts a ChangeNotifier to
// ResourceListChangedCapability.
type listChangedFromSubscriber struct{ cn *ChangeNotifier }

func (l listChangedFromSubscriber) Register(ctx context.Context, session *sessions.Session, fn NotifyResourceChangeFunc) (bool, error) {
	if fn == nil {
		return false, nil
	}
	ch := l.cn.Subscriber()
	go func() {
		defer l.cn.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session)
			}
		}
	}()
	return true, nil
}
