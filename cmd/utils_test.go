package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestRequeueTasksBeforeWorkerStarts(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	const n = 150
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%03d", i)
		require.NoError(t, database.CreateTask(ctx, db, id, "input/"+id))
		queued, err := database.QueueTask(ctx, db, id, "pepper")
		require.NoError(t, err)
		require.True(t, queued)
	}
	require.NoError(t, database.CreateTask(ctx, db, "never-queued", "input/never-queued"))

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	done := make(chan error, 1)
	go func() { done <- RequeueTasks(ctx, db, queue) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("requeueing blocked with no consumer running")
	}

	seen := make(map[string]bool)
	for len(seen) < n {
		select {
		case task := <-queue.Tasks():
			var payload messaging.CrackTaskPayload
			require.NoError(t, json.Unmarshal(task.Payload(), &payload))
			assert.Equal(t, "pepper", payload.Salt)
			seen[payload.TaskId] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d tasks requeued", len(seen), n)
		}
	}
	assert.False(t, seen["never-queued"])
}
