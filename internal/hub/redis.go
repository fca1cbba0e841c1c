package hub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "branchline:session:"

// RedisBackend fans Hub broadcasts out across server instances sharing a
// session, one pub/sub channel per session.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(addr string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

type wireEvent struct {
	SessionID string `json:"session_id"`
	Event     Event  `json:"event"`
}

func (b *RedisBackend) Publish(sessionID string, event Event) {
	data, err := json.Marshal(wireEvent{SessionID: sessionID, Event: event})
	if err != nil {
		log.Warn().Err(err).Msg("hub/redis: encode publish failed")
		return
	}
	if err := b.client.Publish(context.Background(), channelPrefix+sessionID, data).Err(); err != nil {
		log.Warn().Err(err).Msg("hub/redis: publish failed")
	}
}

// Subscribe listens on every branchline session channel via a pattern
// subscription and invokes deliver for each event received from another
// instance.
func (b *RedisBackend) Subscribe(deliver func(sessionID string, event Event)) error {
	sub := b.client.PSubscribe(context.Background(), channelPrefix+"*")
	for msg := range sub.Channel() {
		var we wireEvent
		if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
			log.Warn().Err(err).Msg("hub/redis: decode message failed")
			continue
		}
		deliver(we.SessionID, we.Event)
	}
	return nil
}
