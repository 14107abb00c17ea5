// Package sync keeps the local itinerary in step with a remote trip row.
// One Engine manages one connection at a time: a connect handshake with
// conflict resolution, a debounced versioned push of local edits, and a
// subscription that adopts other clients' updates wholesale.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripmap/api/internal/localstate"
	"tripmap/api/internal/notify"
	"tripmap/api/internal/planner"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is one side of a conflict decision.
type Snapshot struct {
	Planner planner.Planner
	Status  planner.Status
}

// Decision is the user's answer to a connect-time conflict.
type Decision int

const (
	// DecisionCancel aborts the connection and leaves local state alone.
	DecisionCancel Decision = iota
	// DecisionUseCloud overwrites local state with the remote snapshot.
	DecisionUseCloud
	// DecisionUploadLocal overwrites the remote row with local state.
	DecisionUploadLocal
)

// ConflictResolver is asked to choose when both sides have data and their
// canonical serializations differ. The engine owns no UI; callers supply
// the decision point.
type ConflictResolver func(local, remote Snapshot) Decision

// TripSnapshot is the remote row as the engine sees it.
type TripSnapshot struct {
	ID        string
	Title     string
	Planner   json.RawMessage
	Status    json.RawMessage
	UpdatedBy string
}

// Remote is the trip row collaborator. Join must treat a duplicate
// membership as success.
type Remote interface {
	Authenticate(ctx context.Context, displayName string) (userID string, err error)
	Join(ctx context.Context, tripID, joinCode, userID string) error
	FetchTrip(ctx context.Context, tripID string) (TripSnapshot, error)
	UpdateTrip(ctx context.Context, tripID string, plannerDoc, statusDoc json.RawMessage, origin string) error
	Subscribe(ctx context.Context, tripID string) (<-chan notify.ChangeEvent, error)
}

var (
	// ErrBusy is returned when a connect/switch is already in flight.
	ErrBusy = errors.New("sync operation already in flight")
	// ErrCancelled is returned when the conflict resolver chose cancel.
	ErrCancelled = errors.New("connect cancelled")
	// ErrNotConnected is returned by operations requiring a connection.
	ErrNotConnected = errors.New("not connected")
)

// Options tune the push timing. Zero values take the production defaults.
type Options struct {
	DisplayName  string
	ClientID     string
	PushDebounce time.Duration
	PushRetry    time.Duration
}

// Engine owns the sync state machine for the local store.
type Engine struct {
	remote   Remote
	store    *planner.Store
	local    *localstate.Store
	resolver ConflictResolver

	clientID     string
	displayName  string
	pushDebounce time.Duration
	pushRetry    time.Duration

	mu            sync.Mutex
	state         State
	tripID        string
	joinCode      string
	userID        string
	subCancel     context.CancelFunc
	plannerVer    uint64
	statusVer     uint64
	pushedPlanner uint64
	pushedStatus  uint64
	pushTimer     *time.Timer
	pushing       bool
}

// New builds an engine. The resolver may be nil, in which case conflicts
// resolve to cancel (the safe default).
func New(remote Remote, store *planner.Store, local *localstate.Store, resolver ConflictResolver, opts Options) *Engine {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.DisplayName == "" {
		opts.DisplayName = "Traveler"
	}
	if opts.PushDebounce <= 0 {
		opts.PushDebounce = 900 * time.Millisecond
	}
	if opts.PushRetry <= 0 {
		opts.PushRetry = 2500 * time.Millisecond
	}
	if resolver == nil {
		resolver = func(local, remote Snapshot) Decision { return DecisionCancel }
	}
	return &Engine{
		remote:       remote,
		store:        store,
		local:        local,
		resolver:     resolver,
		clientID:     opts.ClientID,
		displayName:  opts.DisplayName,
		pushDebounce: opts.PushDebounce,
		pushRetry:    opts.PushRetry,
	}
}

// ClientID identifies this engine instance in pushed updates.
func (e *Engine) ClientID() string { return e.clientID }

// State reports the connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connection returns the current descriptor (zero when disconnected).
func (e *Engine) Connection() localstate.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Connected {
		return localstate.Connection{}
	}
	return localstate.Connection{TripID: e.tripID, JoinCode: e.joinCode, UserID: e.userID}
}

// MarkDirty records that a field group changed locally and schedules a
// debounced push. Wire this as the planner store's dirty callback.
func (e *Engine) MarkDirty(kind planner.DirtyKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch kind {
	case planner.DirtyStatus:
		e.statusVer++
	default:
		e.plannerVer++
	}
	if e.state != Connected {
		return
	}
	e.scheduleLocked(e.pushDebounce)
}

// Connect runs the connect sequence against a trip. On any failure the
// engine returns to Disconnected with local state untouched.
func (e *Engine) Connect(ctx context.Context, tripID, joinCode string) error {
	e.mu.Lock()
	if e.state != Disconnected {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state = Connecting
	e.mu.Unlock()

	err := e.connect(ctx, tripID, joinCode)
	if err != nil {
		e.mu.Lock()
		e.state = Disconnected
		e.mu.Unlock()
	}
	return err
}

func (e *Engine) connect(ctx context.Context, tripID, joinCode string) error {
	userID, err := e.remote.Authenticate(ctx, e.displayName)
	if err != nil {
		return err
	}
	if err := e.remote.Join(ctx, tripID, joinCode, userID); err != nil {
		return err
	}
	trip, err := e.remote.FetchTrip(ctx, tripID)
	if err != nil {
		return err
	}

	localPlanner := e.store.Planner()
	localStatus := e.store.Status()
	remotePlanner := planner.Normalize(trip.Planner)
	remoteStatus := planner.NormalizeStatus(trip.Status)

	localHas := planner.HasData(localPlanner, localStatus)
	remoteHas := planner.HasData(remotePlanner, remoteStatus)
	differ := planner.Canonical(localPlanner, localStatus) != planner.Canonical(remotePlanner, remoteStatus)

	uploadLocal := false
	switch {
	case localHas && remoteHas && differ:
		decision := e.resolver(
			Snapshot{Planner: localPlanner, Status: localStatus},
			Snapshot{Planner: remotePlanner, Status: remoteStatus},
		)
		switch decision {
		case DecisionUseCloud:
			e.store.Replace(remotePlanner, remoteStatus)
		case DecisionUploadLocal:
			uploadLocal = true
		default:
			return ErrCancelled
		}
	case remoteHas && !localHas:
		e.store.Replace(remotePlanner, remoteStatus)
	}
	// Local-only data (or neither side has any): keep local; it is pushed
	// on the first subsequent mutation.

	e.mu.Lock()
	e.tripID = tripID
	e.joinCode = joinCode
	e.userID = userID
	e.state = Connected
	e.pushedPlanner = e.plannerVer
	e.pushedStatus = e.statusVer
	e.mu.Unlock()

	e.local.SaveConnection(localstate.Connection{TripID: tripID, JoinCode: joinCode, UserID: userID})

	subCtx, cancel := context.WithCancel(context.Background())
	events, err := e.remote.Subscribe(subCtx, tripID)
	if err != nil {
		cancel()
		e.local.ClearConnection()
		return err
	}
	e.mu.Lock()
	e.subCancel = cancel
	e.mu.Unlock()
	go e.consume(events)

	if uploadLocal {
		e.mu.Lock()
		e.plannerVer++
		e.statusVer++
		e.mu.Unlock()
		e.push()
	}
	return nil
}

// consume applies remote change notifications. Events originating from
// this client are echoes and are dropped without touching state.
func (e *Engine) consume(events <-chan notify.ChangeEvent) {
	for event := range events {
		if event.Origin == e.clientID {
			continue
		}
		p := e.store.Planner()
		s := e.store.Status()
		if len(event.Planner) > 0 {
			p = planner.Normalize(event.Planner)
		}
		if len(event.Status) > 0 {
			s = planner.NormalizeStatus(event.Status)
		}
		e.store.Replace(p, s)
	}
}

// Disconnect tears down the subscription, clears the stored descriptor,
// and drops back to Disconnected. Pending pushes are abandoned.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	if e.pushTimer != nil {
		e.pushTimer.Stop()
		e.pushTimer = nil
	}
	cancel := e.subCancel
	e.subCancel = nil
	e.state = Disconnected
	e.tripID = ""
	e.joinCode = ""
	e.userID = ""
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.local.ClearConnection()
}

// SwitchTrip flushes any pending push, disconnects, resets local state to
// empty defaults, and connects to the new trip.
func (e *Engine) SwitchTrip(ctx context.Context, tripID, joinCode string) error {
	e.Flush(ctx)
	e.Disconnect()
	e.store.Reset()
	e.mu.Lock()
	// The reset itself is not an edit to relay to the new trip.
	e.pushedPlanner = e.plannerVer
	e.pushedStatus = e.statusVer
	e.mu.Unlock()
	return e.Connect(ctx, tripID, joinCode)
}

// Flush pushes any dirty field groups immediately, cancelling the pending
// debounce timer.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	if e.pushTimer != nil {
		e.pushTimer.Stop()
		e.pushTimer = nil
	}
	dirty := e.state == Connected && (e.plannerVer > e.pushedPlanner || e.statusVer > e.pushedStatus)
	e.mu.Unlock()
	if dirty {
		e.push()
	}
}

// scheduleLocked (re)arms the debounce timer; a newer edit replaces the
// pending push so only the latest schedule survives. Callers hold e.mu.
func (e *Engine) scheduleLocked(delay time.Duration) {
	if e.pushTimer != nil {
		e.pushTimer.Stop()
	}
	e.pushTimer = time.AfterFunc(delay, e.push)
}

// push sends the field groups whose version advanced since the last
// successful push. Transient failures re-arm a fixed retry; the push is
// never abandoned while connected.
func (e *Engine) push() {
	e.mu.Lock()
	if e.pushing || e.state != Connected {
		e.mu.Unlock()
		return
	}
	plannerVer := e.plannerVer
	statusVer := e.statusVer
	sendPlanner := plannerVer > e.pushedPlanner
	sendStatus := statusVer > e.pushedStatus
	tripID := e.tripID
	if !sendPlanner && !sendStatus {
		e.mu.Unlock()
		return
	}
	e.pushing = true
	e.mu.Unlock()

	var plannerDoc, statusDoc json.RawMessage
	if sendPlanner {
		plannerDoc, _ = json.Marshal(e.store.Planner())
	}
	if sendStatus {
		statusDoc, _ = json.Marshal(e.store.Status())
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), 15*time.Second)
	err := e.remote.UpdateTrip(ctx, tripID, plannerDoc, statusDoc, e.clientID)
	cancelCtx()

	e.mu.Lock()
	e.pushing = false
	if err != nil {
		if e.state == Connected {
			log.Printf("sync: push failed, retrying in %s: %v", e.pushRetry, err)
			e.scheduleLocked(e.pushRetry)
		}
		e.mu.Unlock()
		return
	}
	if sendPlanner && plannerVer > e.pushedPlanner {
		e.pushedPlanner = plannerVer
	}
	if sendStatus && statusVer > e.pushedStatus {
		e.pushedStatus = statusVer
	}
	// Edits made while the push was in flight get their own pass.
	if e.state == Connected && (e.plannerVer > e.pushedPlanner || e.statusVer > e.pushedStatus) {
		e.scheduleLocked(e.pushDebounce)
	}
	e.mu.Unlock()
}
