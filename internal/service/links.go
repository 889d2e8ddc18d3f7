package service

import "sync"

// Link joins a local desktop request to its ledger record.
type Link struct {
	RequestID string
	RecordID  string
	TurnID    string
	SessionID string
}

// Links is the join table between local request IDs and ledger record IDs.
// A request without a link was never recorded remotely, which is how the
// degraded local-only path is detected.
type Links struct {
	mu       sync.RWMutex
	byLocal  map[string]Link
	byRemote map[string]string
}

// NewLinks creates an empty join table.
func NewLinks() *Links {
	return &Links{
		byLocal:  make(map[string]Link),
		byRemote: make(map[string]string),
	}
}

// Add records a link, replacing any previous one for the same request.
func (l *Links) Add(link Link) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.byLocal[link.RequestID]; ok {
		delete(l.byRemote, prev.RecordID)
	}
	l.byLocal[link.RequestID] = link
	l.byRemote[link.RecordID] = link.RequestID
}

// Remote returns the ledger record ID for a local request.
func (l *Links) Remote(requestID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	link, ok := l.byLocal[requestID]
	return link.RecordID, ok
}

// Local returns the local request ID for a ledger record.
func (l *Links) Local(recordID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byRemote[recordID]
	return id, ok
}

// Get returns the full link for a local request.
func (l *Links) Get(requestID string) (Link, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	link, ok := l.byLocal[requestID]
	return link, ok
}

// Remove deletes the link for a local request.
func (l *Links) Remove(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if link, ok := l.byLocal[requestID]; ok {
		delete(l.byRemote, link.RecordID)
		delete(l.byLocal, requestID)
	}
}

// All returns a snapshot of every link.
func (l *Links) All() []Link {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Link, 0, len(l.byLocal))
	for _, link := range l.byLocal {
		out = append(out, link)
	}
	return out
}

// Len returns the number of links.
func (l *Links) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byLocal)
}
