package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medivoice/internal/models"
	"medivoice/internal/redis"
	"medivoice/internal/transcript"
)

const (
	redisInvalidateChannel = "medivoice:call:invalidate"
	redisStateTTL          = 30 * time.Minute
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
}

// StatusEvent is published on the session channel whenever the lifecycle moves.
type StatusEvent struct {
	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	Error     string               `json:"error,omitempty"`
}

type cachedSnapshot struct {
	UserID   int64               `json:"user_id"`
	Snapshot transcript.Snapshot `json:"snapshot"`
}

// stateRedis mirrors live call state into redis. A nil receiver or client
// turns every method into a no-op.
type stateRedis struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateRedis {
	return &stateRedis{client: client}
}

func (r *stateRedis) enabled() bool {
	return r != nil && r.client != nil && r.client.Raw() != nil
}

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("medivoice:call:%s", sessionID)
}

// startListener drops local call state when another instance deletes the session.
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) {
	if !r.enabled() || handler == nil {
		return
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		logger.Warn().Err(err).Msg("subscribe invalidation channel")
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					logger.Warn().Err(err).Msg("decode invalidation")
					continue
				}
				handler(inv)
			}
		}
	}()
}

func (r *stateRedis) publishInvalidation(sessionID string) {
	if !r.enabled() {
		return
	}
	payload, err := json.Marshal(invalidateMessage{SessionID: sessionID})
	if err != nil {
		return
	}
	if err := r.client.Publish(context.Background(), redisInvalidateChannel, payload); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("publish invalidation")
	}
}

func (r *stateRedis) publishStatus(sessionID string, status models.SessionStatus, cause error) {
	if !r.enabled() {
		return
	}
	ev := StatusEvent{SessionID: sessionID, Status: status}
	if cause != nil {
		ev.Error = cause.Error()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.client.Publish(context.Background(), redis.SessionChannel(sessionID), payload); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("publish status")
	}
}

func (r *stateRedis) saveSnapshot(userID int64, sessionID string, snap transcript.Snapshot) {
	if !r.enabled() {
		return
	}
	data, err := json.Marshal(cachedSnapshot{UserID: userID, Snapshot: snap})
	if err != nil {
		logger.Warn().Err(err).Msg("encode snapshot")
		return
	}
	if err := r.client.Set(context.Background(), snapshotKey(sessionID), data, redisStateTTL); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("cache snapshot")
	}
}

func (r *stateRedis) loadSnapshot(userID int64, sessionID string) (transcript.Snapshot, bool) {
	if !r.enabled() {
		return transcript.Snapshot{}, false
	}
	raw, err := r.client.Get(context.Background(), snapshotKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("load snapshot")
		}
		return transcript.Snapshot{}, false
	}
	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		logger.Warn().Err(err).Msg("decode snapshot")
		return transcript.Snapshot{}, false
	}
	if cached.UserID != userID {
		return transcript.Snapshot{}, false
	}
	return cached.Snapshot, true
}

func (r *stateRedis) invalidateSnapshot(sessionID string) {
	if !r.enabled() {
		return
	}
	if err := r.client.Del(context.Background(), snapshotKey(sessionID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("invalidate snapshot")
	}
}
