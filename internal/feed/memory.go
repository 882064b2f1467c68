package feed

import (
	"context"
	"sync"

	"github.com/bitnest/ledger-service/internal/domain"
)

// MemoryBroker is the in-process broker used in local mode and tests.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*versionGate
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]*versionGate)}
}

func (b *MemoryBroker) Publish(ctx context.Context, account domain.Account) error {
	b.mu.RLock()
	gates := make([]*versionGate, 0, len(b.subs[account.ID]))
	for _, g := range b.subs[account.ID] {
		gates = append(gates, g)
	}
	b.mu.RUnlock()

	for _, g := range gates {
		g.deliver(account)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, accountID string, fn func(domain.Account)) (func(), error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[accountID] == nil {
		b.subs[accountID] = make(map[int]*versionGate)
	}
	b.subs[accountID][id] = &versionGate{fn: fn}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[accountID], id)
			if len(b.subs[accountID]) == 0 {
				delete(b.subs, accountID)
			}
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return cancel, nil
}
