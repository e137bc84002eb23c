package claude

import (
	"os/exec"
	"sync"
)

// processTable tracks live child processes so shutdown can terminate them.
type processTable struct {
	mu   sync.Mutex
	next int
	live map[int]*exec.Cmd
}

func newProcessTable() *processTable {
	return &processTable{live: make(map[int]*exec.Cmd)}
}

func (t *processTable) register(cmd *exec.Cmd) func() {
	t.mu.Lock()
	t.next++
	id := t.next
	t.live[id] = cmd
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.live, id)
		t.mu.Unlock()
	}
}

func (t *processTable) killAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	killed := 0
	for id, cmd := range t.live {
		if killProcessGroup(cmd) {
			killed++
		}
		delete(t.live, id)
	}
	return killed
}
