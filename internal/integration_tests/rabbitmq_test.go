//go:build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cracknum-backend/internal/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	publisher, receiver := setupRabbitMQContainer(t, ctx)

	receive := func(t *testing.T) messaging.Task {
		select {
		case task := <-receiver.Tasks():
			return task
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for task")
			return nil
		}
	}

	t.Run("Publish and Receive CrackTask", func(t *testing.T) {
		payload := messaging.CrackTaskPayload{TaskId: "0123456789abcdef", Salt: "pepper"}
		require.NoError(t, publisher.PublishCrackTask(ctx, payload))

		task := receive(t)
		assert.Equal(t, messaging.CrackQueue, task.Type())

		var received messaging.CrackTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)

		require.NoError(t, task.Ack())
	})

	t.Run("Nacked task is not redelivered", func(t *testing.T) {
		require.NoError(t, publisher.PublishCrackTask(ctx, messaging.CrackTaskPayload{TaskId: "first", Salt: "s"}))
		require.NoError(t, publisher.PublishCrackTask(ctx, messaging.CrackTaskPayload{TaskId: "second", Salt: "s"}))

		task := receive(t)
		require.NoError(t, task.Nack())

		next := receive(t)
		var received messaging.CrackTaskPayload
		require.NoError(t, json.Unmarshal(next.Payload(), &received))
		assert.Equal(t, "second", received.TaskId)
		require.NoError(t, next.Ack())
	})
}
