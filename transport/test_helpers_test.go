package transport

import (
	"sync"
	"time"
)

// recordingRecorder captures Recorder events for assertions.
type recordingRecorder struct {
	mu           sync.Mutex
	stunQueries  []stunQueryEvent
	punchRounds  int
	punchResults []punchResultEvent
	probes       []bool
}

type stunQueryEvent struct {
	server string
	ok     bool
}

type punchResultEvent struct {
	ok       bool
	attempts int
}

func (r *recordingRecorder) STUNQuery(server string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stunQueries = append(r.stunQueries, stunQueryEvent{server: server, ok: ok})
}

func (r *recordingRecorder) PunchRound() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.punchRounds++
}

func (r *recordingRecorder) PunchResult(ok bool, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.punchResults = append(r.punchResults, punchResultEvent{ok: ok, attempts: attempts})
}

func (r *recordingRecorder) Probe(reachable bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, reachable)
}

func (r *recordingRecorder) rounds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.punchRounds
}
