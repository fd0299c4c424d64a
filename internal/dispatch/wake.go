package dispatch

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// WakeBus fans enqueue/release wake-ups out to every dispatcher
// instance through a Redis pub/sub channel, so an enqueue served by one
// API instance wakes the loops on all of them.
//
// Best-effort only: a lost wake-up merely delays dispatch until the
// next ticker cadence.
type WakeBus struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewWakeBus(rdb *redis.Client, channel string, log *slog.Logger) *WakeBus {
	if channel == "" {
		channel = "dispatch:wake"
	}
	if log == nil {
		log = slog.Default()
	}
	return &WakeBus{rdb: rdb, channel: channel, log: log}
}

// Publish nudges all subscribed dispatchers.
func (b *WakeBus) Publish(ctx context.Context) {
	if err := b.rdb.Publish(ctx, b.channel, "wake").Err(); err != nil {
		b.log.Warn("dispatch wake publish failed", "err", err)
	}
}

// Listen invokes fn for every wake-up message until ctx is cancelled.
func (b *WakeBus) Listen(ctx context.Context, fn func()) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			fn()
		}
	}
}
