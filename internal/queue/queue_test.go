package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/config"
	"stayops/internal/models"
)

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.SyncConfig{QueueKey: "sync:queue", DeadLetterKey: "sync:deadletter"}
	return New(client, cfg, zerolog.Nop()), mr, client
}

func TestEnqueueDequeueRoundtrip(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	task := models.SyncTask{
		TaskID:        "task-1",
		ConnectionID:  7,
		OperationType: models.OpAvailability,
		EnqueuedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, q.Enqueue(ctx, task))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	got, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.TaskID, got.TaskID)
	assert.Equal(t, task.ConnectionID, got.ConnectionID)
	assert.Equal(t, task.OperationType, got.OperationType)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDequeueOrderIsFIFO(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, q.Enqueue(ctx, models.SyncTask{TaskID: id, ConnectionID: 1, OperationType: models.OpPricing}))
	}

	for _, want := range []string{"first", "second", "third"} {
		got, ok, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got.TaskID)
	}
}

func TestDequeueEmptyQueue(t *testing.T) {
	q, _, _ := setupTestQueue(t)

	_, ok, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDequeueDropsUndecodableMessage(t *testing.T) {
	q, mr, _ := setupTestQueue(t)

	_, err := mr.Lpush("sync:queue", "not json at all")
	require.NoError(t, err)

	_, ok, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth, "poison message must not stay in the queue")
}

func TestDeadLetterRecordsCause(t *testing.T) {
	q, mr, _ := setupTestQueue(t)
	ctx := context.Background()

	task := models.SyncTask{TaskID: "task-1", ConnectionID: 7, OperationType: models.OpReservation}
	q.DeadLetter(ctx, task, "validation: unknown field")

	raw, err := mr.Lpop("sync:deadletter")
	require.NoError(t, err)

	var parked struct {
		models.SyncTask
		Cause string `json:"cause"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &parked))
	assert.Equal(t, "task-1", parked.TaskID)
	assert.Equal(t, "validation: unknown field", parked.Cause)
}

func TestPing(t *testing.T) {
	q, mr, _ := setupTestQueue(t)

	require.NoError(t, q.Ping(context.Background()))

	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}

func TestHeartbeatAdvertisesWorker(t *testing.T) {
	q, _, client := setupTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	hb := NewHeartbeat(client, "worker-abc", 10*time.Millisecond, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	var workers []string
	for time.Now().Before(deadline) {
		var err error
		workers, err = q.ActiveWorkers(context.Background())
		if err == nil && len(workers) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, []string{"worker-abc"}, workers)

	cancel()
	<-done

	workers, err := q.ActiveWorkers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, workers, "stopped worker must remove its heartbeat")
}

func TestHeartbeatKeyExpires(t *testing.T) {
	q, mr, client := setupTestQueue(t)

	hb := NewHeartbeat(client, "worker-dead", 10*time.Millisecond, zerolog.Nop())
	hb.beat(context.Background(), workerKeyPrefix+"worker-dead", 30*time.Millisecond)

	workers, err := q.ActiveWorkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-dead"}, workers)

	// A crashed worker never refreshes; the key ages out on its own.
	mr.FastForward(time.Second)

	workers, err = q.ActiveWorkers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, workers)
}
