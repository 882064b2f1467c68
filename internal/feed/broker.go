/**
 * @description
 * Package feed delivers account documents to subscribers whenever a write commits.
 * Every push carries the document version; a subscriber never sees a version older
 * than one it has already received, so out-of-order deliveries cannot make a
 * balance appear to step backwards.
 */
package feed

import (
	"context"
	"sync"

	"github.com/bitnest/ledger-service/internal/domain"
)

// Broker fans committed account documents out to subscribers.
type Broker interface {
	Publish(ctx context.Context, account domain.Account) error
	// Subscribe calls fn for every newer version of the account until cancel is called
	// or ctx ends.
	Subscribe(ctx context.Context, accountID string, fn func(domain.Account)) (cancel func(), err error)
}

// versionGate drops pushes that are not newer than the last delivered one.
type versionGate struct {
	mu   sync.Mutex
	last int64
	fn   func(domain.Account)
}

func (g *versionGate) deliver(account domain.Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if account.Version <= g.last {
		return
	}
	g.last = account.Version
	g.fn(account)
}
