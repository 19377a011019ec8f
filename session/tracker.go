package session

import (
	"errors"
	"slices"
	"sync"

	set "github.com/duke-git/lancet/v2/datastructure/set"
)

var (
	ErrNotConnected          = errors.New("session: not connected")
	ErrAlreadyConnected      = errors.New("session: already connected")
	ErrTxInProgress          = errors.New("session: transaction already in progress")
	ErrNoTx                  = errors.New("session: no transaction in progress")
	ErrSessionMismatch       = errors.New("session: sessID does not match the open transaction")
	ErrUnknownSubscription   = errors.New("session: unknown subscription")
	ErrDuplicateSubscription = errors.New("session: subscription already active")
	ErrUnknownQuery          = errors.New("session: unknown or finished query")
	ErrDuplicateQuery        = errors.New("session: query already active")
)

// Abandoned is the state left behind when a session disconnects.
type Abandoned struct {
	// TxSessID is set when a transaction was open; it is discarded as if aborted.
	TxSessID      string
	Subscriptions []int64
	Queries       []int64
}

// Tracker enforces the per-session lifecycle: connect once, at most one open
// transaction, and the set of live subscription and query IDs. It is safe for
// concurrent use; query completion is usually reported from another goroutine.
type Tracker struct {
	mu        sync.Mutex
	connected bool
	txSessID  string
	inTx      bool
	subs      set.Set[int64]
	queries   set.Set[int64]
}

func NewTracker() *Tracker {
	return &Tracker{
		subs:    set.New[int64](),
		queries: set.New[int64](),
	}
}

func (t *Tracker) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (t *Tracker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// RequireConnected fails for frames received before CONNECT.
func (t *Tracker) RequireConnected() error {
	if !t.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (t *Tracker) BeginTx(sessID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	if t.inTx {
		return ErrTxInProgress
	}
	t.inTx = true
	t.txSessID = sessID
	return nil
}

// CheckPublish reports whether a PUB carrying sessID belongs to the open
// transaction. An empty sessID is a plain, immediately committed publish.
func (t *Tracker) CheckPublish(sessID string) (transactional bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return false, ErrNotConnected
	}
	if sessID == "" {
		return false, nil
	}
	if !t.inTx {
		return false, ErrNoTx
	}
	if sessID != t.txSessID {
		return false, ErrSessionMismatch
	}
	return true, nil
}

// EndTx closes the open transaction, for both commit and abort.
func (t *Tracker) EndTx(sessID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	if !t.inTx {
		return ErrNoTx
	}
	if sessID != t.txSessID {
		return ErrSessionMismatch
	}
	t.inTx = false
	t.txSessID = ""
	return nil
}

func (t *Tracker) InTx() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inTx
}

func (t *Tracker) AddSubscription(subID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	if t.subs.Contain(subID) {
		return ErrDuplicateSubscription
	}
	t.subs.Add(subID)
	return nil
}

func (t *Tracker) CheckSubscription(subID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.subs.Contain(subID) {
		return ErrUnknownSubscription
	}
	return nil
}

func (t *Tracker) RemoveSubscription(subID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.subs.Contain(subID) {
		return ErrUnknownSubscription
	}
	t.subs.Delete(subID)
	return nil
}

func (t *Tracker) StartQuery(queryID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	if t.queries.Contain(queryID) {
		return ErrDuplicateQuery
	}
	t.queries.Add(queryID)
	return nil
}

func (t *Tracker) CheckQuery(queryID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.queries.Contain(queryID) {
		return ErrUnknownQuery
	}
	return nil
}

// FinishQuery releases queryID after its last result. Any later reference to
// the ID fails with ErrUnknownQuery until it is started again.
func (t *Tracker) FinishQuery(queryID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.queries.Contain(queryID) {
		return ErrUnknownQuery
	}
	t.queries.Delete(queryID)
	return nil
}

// Disconnect moves the session to its terminal state and returns everything
// that was still open.
func (t *Tracker) Disconnect() Abandoned {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ab Abandoned
	if t.inTx {
		ab.TxSessID = t.txSessID
	}
	ab.Subscriptions = t.subs.Values()
	ab.Queries = t.queries.Values()
	slices.Sort(ab.Subscriptions)
	slices.Sort(ab.Queries)

	t.connected = false
	t.inTx = false
	t.txSessID = ""
	t.subs = set.New[int64]()
	t.queries = set.New[int64]()
	return ab
}
