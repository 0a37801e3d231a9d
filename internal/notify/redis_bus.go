package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

const channel = "foodzone:ledger-changes"

// RedisBus shares change notifications between server instances through
// Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, change domain.LedgerChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan domain.LedgerChange, error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan domain.LedgerChange, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change domain.LedgerChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					b.logger.Warn("dropping malformed ledger change", zap.Error(err))
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()
	return out, nil
}
