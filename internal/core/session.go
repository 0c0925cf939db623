package core

// session.go tracks asynchronous import sessions and fans their progress
// out to subscribers.
//
// A session moves queued -> importing -> complete, or ends early as
// cancelled or failed. Subscribers get the current state on subscribe and
// every later update on a buffered channel; a slow subscriber misses
// intermediate updates but always sees the channel close when the session
// ends. Finished sessions are dropped after the retention delay.

import (
	"context"
	"sync"
	"time"
)

// Phase is the lifecycle stage of an import session.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseImporting Phase = "importing"
	PhaseComplete  Phase = "complete"
	PhaseCancelled Phase = "cancelled"
	PhaseFailed    Phase = "failed"
)

// Done reports whether the phase is terminal.
func (p Phase) Done() bool {
	return p == PhaseComplete || p == PhaseCancelled || p == PhaseFailed
}

// ImportProgress is the state pushed to session subscribers.
type ImportProgress struct {
	ImportID string `json:"import_id"`
	Tenant   string `json:"tenant"`
	Entity   string `json:"entity"`
	FileName string `json:"file_name,omitempty"`
	Phase    Phase  `json:"phase"`
	Progress
	Invalid int    `json:"invalid"`
	Error   string `json:"error,omitempty"`
}

// ImportSessionResult is the final report of an asynchronous import.
type ImportSessionResult struct {
	ImportID   string                `json:"import_id"`
	Tenant     string                `json:"tenant"`
	Entity     string                `json:"entity"`
	FileName   string                `json:"file_name,omitempty"`
	Phase      Phase                 `json:"phase"`
	Invalid    int                   `json:"invalid"`
	Errors     []*RowValidationError `json:"validation_errors,omitempty"`
	Batch      ImportBatchResult     `json:"batch"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

const listenerBuffer = 10

type activeImport struct {
	id       string
	tenant   string
	entity   string
	fileName string
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	result    *ImportSessionResult
	listeners []chan ImportProgress
	closed    bool
}

func newActiveImport(id, tenant, entity, fileName string, cancel context.CancelFunc) *activeImport {
	return &activeImport{
		id:       id,
		tenant:   tenant,
		entity:   entity,
		fileName: fileName,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: ImportProgress{
			ImportID: id,
			Tenant:   tenant,
			Entity:   entity,
			FileName: fileName,
			Phase:    PhaseQueued,
		},
	}
}

// update mutates the progress under lock and notifies listeners.
func (a *activeImport) update(fn func(*ImportProgress)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.progress)
	a.notifyLocked()
}

// finish records the final result and pushes the terminal progress.
func (a *activeImport) finish(phase Phase, result *ImportSessionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result.Phase = phase
	a.result = result
	a.progress.Phase = phase
	a.progress.Error = result.Error
	a.notifyLocked()
}

func (a *activeImport) notifyLocked() {
	for _, ch := range a.listeners {
		select {
		case ch <- a.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// subscribe registers a listener and sends it the current state. A
// subscriber arriving after the session ended gets the final state on an
// already closed channel.
func (a *activeImport) subscribe() <-chan ImportProgress {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan ImportProgress, listenerBuffer)
	ch <- a.progress

	if a.closed {
		close(ch)
		return ch
	}
	a.listeners = append(a.listeners, ch)
	return ch
}

// closeListeners closes all listener channels.
func (a *activeImport) closeListeners() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ch := range a.listeners {
		close(ch)
	}
	a.listeners = nil
	a.closed = true
}

func (a *activeImport) snapshot() ImportProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

func (a *activeImport) resultSnapshot() *ImportSessionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return nil
	}
	r := *a.result
	return &r
}

// sessionTable indexes sessions by id.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*activeImport
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*activeImport)}
}

func (t *sessionTable) put(a *activeImport) {
	t.mu.Lock()
	t.sessions[a.id] = a
	t.mu.Unlock()
}

func (t *sessionTable) get(id string) (*activeImport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.sessions[id]
	return a, ok
}

// expire removes the session from tracking after delay.
func (t *sessionTable) expire(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.sessions, id)
		t.mu.Unlock()
	})
}
