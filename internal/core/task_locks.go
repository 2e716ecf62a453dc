package core

import "sync"

// taskLocks tracks which task ids this worker is currently running. A broker
// may redeliver a message while the first delivery is still being processed.
type taskLocks struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskLocks() *taskLocks {
	return &taskLocks{running: make(map[string]struct{})}
}

// tryLock claims the task id and reports false if it is already claimed.
func (l *taskLocks) tryLock(taskId string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.running[taskId]; ok {
		return false
	}
	l.running[taskId] = struct{}{}
	return true
}

func (l *taskLocks) unlock(taskId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, taskId)
}
