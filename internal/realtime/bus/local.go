package bus

import (
	"context"
	"fmt"
	"sync"
)

// LocalBus is the single-process backbone: Publish hands the message
// straight to the forwarder callback.
type LocalBus struct {
	mu    sync.RWMutex
	onMsg func(m Message)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	onMsg := b.onMsg
	b.mu.RUnlock()
	if onMsg == nil {
		return fmt.Errorf("local bus forwarder not started")
	}
	onMsg(msg)
	return nil
}

func (b *LocalBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	b.onMsg = onMsg
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.onMsg = nil
	b.mu.Unlock()
	return nil
}
