package scheduler

import "sync"

// flowTable holds submitted flow blobs between Submit (when the blob is
// received) and dispatch (when a worker launches the child process), keyed
// by task id. Kept out of task.Record itself since the flow body is large
// and write-once, unlike the record's small mutable fields.
type flowTable struct {
	mu    sync.Mutex
	flows map[string][]byte
}

func newFlowTable() *flowTable {
	return &flowTable{flows: make(map[string][]byte)}
}

func (t *flowTable) put(id string, flow []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flows[id] = flow
}

// take returns and removes the flow blob for id.
func (t *flowTable) take(id string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	flow, ok := t.flows[id]
	delete(t.flows, id)
	return flow, ok
}
