// Package notify fans ledger change notifications out to live watchers.
package notify

import (
	"context"
	"sync"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

type Bus interface {
	Publish(ctx context.Context, change domain.LedgerChange) error
	// Subscribe delivers changes until ctx is done; the channel is then closed.
	Subscribe(ctx context.Context) (<-chan domain.LedgerChange, error)
}

// LocalBus delivers changes in-process. Slow subscribers drop notifications
// rather than block publishers; a dropped change is covered by the next one
// because every change triggers a full recomputation.
type LocalBus struct {
	mu          sync.Mutex
	subscribers map[chan domain.LedgerChange]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[chan domain.LedgerChange]struct{})}
}

func (b *LocalBus) Publish(_ context.Context, change domain.LedgerChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan domain.LedgerChange, error) {
	ch := make(chan domain.LedgerChange, 16)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
