package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskLocks(t *testing.T) {
	locks := newTaskLocks()

	assert.True(t, locks.tryLock("a"))
	assert.False(t, locks.tryLock("a"))
	assert.True(t, locks.tryLock("b"))

	locks.unlock("a")
	assert.True(t, locks.tryLock("a"))
}

func TestTaskLocksConcurrent(t *testing.T) {
	locks := newTaskLocks()

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.tryLock("task") {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, claimed.Load())
}
