package orchestrator

import "sync"

// taskLocks serializes mutations per task id. Lock granularity is the task:
// completions for different tasks proceed concurrently, completions for the
// same task are applied in call order.
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *taskLocks) lock(id string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}
