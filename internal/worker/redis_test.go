package worker

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"medivoice/internal/config"
	"medivoice/internal/models"
	"medivoice/internal/redis"
	"medivoice/internal/transcript"
)

func TestStateCacheNilIsNoop(t *testing.T) {
	var sc *stateRedis
	sc.saveSnapshot(1, "s", transcript.Snapshot{})
	sc.publishStatus("s", models.StatusEnded, nil)
	sc.publishInvalidation("s")
	sc.invalidateSnapshot("s")
	sc.startListener(context.Background(), func(invalidateMessage) {})
	if _, ok := sc.loadSnapshot(1, "s"); ok {
		t.Fatalf("nil cache should never hit")
	}
}

func TestStateCacheSnapshot(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()

	snap := transcript.Snapshot{
		State:      transcript.StateInCall,
		Utterances: []models.Utterance{{Role: models.RoleUser, Text: "hello"}},
	}
	sc.saveSnapshot(77, "abc", snap)

	got, ok := sc.loadSnapshot(77, "abc")
	if !ok || got.State != transcript.StateInCall || len(got.Utterances) != 1 {
		t.Fatalf("snapshot not cached: %+v", got)
	}
	if _, ok := sc.loadSnapshot(78, "abc"); ok {
		t.Fatalf("snapshot leaked to another user")
	}
	sc.invalidateSnapshot("abc")
	if _, ok := sc.loadSnapshot(77, "abc"); ok {
		t.Fatalf("expected snapshot invalidated")
	}
}

func TestStateCachePubSub(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan invalidateMessage, 1)
	sc.startListener(ctx, func(msg invalidateMessage) {
		ch <- msg
	})
	sc.publishInvalidation("abc")
	select {
	case got := <-ch:
		if got.SessionID != "abc" {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive invalidation")
	}

	ps, err := sc.client.Subscribe(ctx, redis.SessionChannel("abc"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer ps.Close()
	sc.publishStatus("abc", models.StatusReportReady, nil)
	select {
	case msg := <-ps.Channel():
		var ev StatusEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if ev.Status != models.StatusReportReady {
			t.Fatalf("unexpected status %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive status")
	}
}

func newRedisStateCache(t *testing.T) (*stateRedis, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed worker tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	return newStateCache(client), func() { client.Close() }
}
