package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tripmap/api/internal/localstate"
	"tripmap/api/internal/notify"
	"tripmap/api/internal/planner"
)

type pushRecord struct {
	TripID  string
	Planner json.RawMessage
	Status  json.RawMessage
	Origin  string
}

type fakeRemote struct {
	mu        sync.Mutex
	trip      TripSnapshot
	authErr   error
	joinErr   error
	fetchErr  error
	updateErr error
	joins     int
	pushes    []pushRecord
	events    chan notify.ChangeEvent
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		trip:   TripSnapshot{ID: "trip_1"},
		events: make(chan notify.ChangeEvent, 8),
	}
}

func (f *fakeRemote) Authenticate(ctx context.Context, displayName string) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return "user_1", nil
}

func (f *fakeRemote) Join(ctx context.Context, tripID, joinCode, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	return f.joinErr
}

func (f *fakeRemote) FetchTrip(ctx context.Context, tripID string) (TripSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return TripSnapshot{}, f.fetchErr
	}
	return f.trip, nil
}

func (f *fakeRemote) UpdateTrip(ctx context.Context, tripID string, plannerDoc, statusDoc json.RawMessage, origin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.pushes = append(f.pushes, pushRecord{TripID: tripID, Planner: plannerDoc, Status: statusDoc, Origin: origin})
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, tripID string) (<-chan notify.ChangeEvent, error) {
	return f.events, nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) lastPush() pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

func (f *fakeRemote) setUpdateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErr = err
}

type harness struct {
	remote *fakeRemote
	store  *planner.Store
	engine *Engine
}

func newHarness(t *testing.T, resolver ConflictResolver) *harness {
	t.Helper()
	remote := newFakeRemote()
	local := localstate.Open(t.TempDir())
	store := planner.NewStore(local, nil)
	engine := New(remote, store, local, resolver, Options{
		ClientID:     "client_self",
		PushDebounce: 15 * time.Millisecond,
		PushRetry:    20 * time.Millisecond,
	})
	// Close the loop the way cmd wiring does.
	h := &harness{remote: remote, store: store, engine: engine}
	t.Cleanup(engine.Disconnect)
	return h
}

// markDirtyVia routes store mutations into the engine like production
// wiring (the store's onDirty callback).
func (h *harness) mutateAddPlace(t *testing.T, placeID string) {
	t.Helper()
	dayID := h.store.Planner().Days[0].ID
	if got := h.store.AddPlace(dayID, placeID); got != planner.AddPlaceAdded {
		t.Fatalf("AddPlace(%s) = %v", placeID, got)
	}
	h.engine.MarkDirty(planner.DirtyPlanner)
}

func remoteWithData() TripSnapshot {
	return TripSnapshot{
		ID:      "trip_1",
		Planner: json.RawMessage(`{"version":2,"days":[{"id":"rd1","title":"Remote Day","items":[{"id":"ri1","placeId":"remote_place","startTime":"09:00"}]}]}`),
		Status:  json.RawMessage(`{"remote_place":{"favorite":true}}`),
	}
}

func localWithData(t *testing.T, h *harness) {
	t.Helper()
	h.store.AddDay()
	h.mutateAddPlace(t, "local_a")
	h.mutateAddPlace(t, "local_b")
	dayID := h.store.Planner().Days[1].ID
	if got := h.store.AddPlace(dayID, "local_c"); got != planner.AddPlaceAdded {
		t.Fatalf("AddPlace = %v", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectAdoptsRemoteWhenLocalEmpty(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.trip = remoteWithData()

	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h.engine.State() != Connected {
		t.Fatalf("state = %v, want connected", h.engine.State())
	}
	p := h.store.Planner()
	if len(p.Days) != 1 || p.Days[0].Title != "Remote Day" {
		t.Errorf("remote planner not adopted: %+v", p)
	}
	if !h.store.Status()["remote_place"].Favorite {
		t.Error("remote status not adopted")
	}
}

func TestConnectKeepsLocalWhenRemoteEmpty(t *testing.T) {
	h := newHarness(t, func(local, remote Snapshot) Decision {
		t.Fatal("resolver must not be called when only one side has data")
		return DecisionCancel
	})
	localWithData(t, h)
	before := planner.Canonical(h.store.Planner(), h.store.Status())

	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	after := planner.Canonical(h.store.Planner(), h.store.Status())
	if before != after {
		t.Error("local-only data must be kept on connect")
	}
	// Nothing pushed yet; the first subsequent mutation relays it.
	if h.remote.pushCount() != 0 {
		t.Errorf("unexpected eager push: %d", h.remote.pushCount())
	}
	h.mutateAddPlace(t, "local_d")
	waitFor(t, "first push", func() bool { return h.remote.pushCount() > 0 })
}

func TestConflictUseCloud(t *testing.T) {
	resolved := false
	h := newHarness(t, func(local, remote Snapshot) Decision {
		resolved = true
		if local.Planner.ItemCount() != 3 {
			t.Errorf("local snapshot items = %d, want 3", local.Planner.ItemCount())
		}
		if remote.Planner.ItemCount() != 1 {
			t.Errorf("remote snapshot items = %d, want 1", remote.Planner.ItemCount())
		}
		return DecisionUseCloud
	})
	localWithData(t, h)
	h.remote.trip = remoteWithData()

	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !resolved {
		t.Fatal("conflicting non-empty states must pause for user choice")
	}
	want := planner.Canonical(planner.Normalize(remoteWithData().Planner), planner.NormalizeStatus(remoteWithData().Status))
	got := planner.Canonical(h.store.Planner(), h.store.Status())
	if got != want {
		t.Errorf("use-cloud must leave local exactly equal to the remote snapshot\ngot:  %s\nwant: %s", got, want)
	}
}

func TestConflictCancel(t *testing.T) {
	h := newHarness(t, func(local, remote Snapshot) Decision { return DecisionCancel })
	localWithData(t, h)
	h.remote.trip = remoteWithData()
	before := planner.Canonical(h.store.Planner(), h.store.Status())

	err := h.engine.Connect(context.Background(), "trip_1", "CODE")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if h.engine.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", h.engine.State())
	}
	if planner.Canonical(h.store.Planner(), h.store.Status()) != before {
		t.Error("cancel must leave local state completely unchanged")
	}
}

func TestConflictUploadLocal(t *testing.T) {
	h := newHarness(t, func(local, remote Snapshot) Decision { return DecisionUploadLocal })
	localWithData(t, h)
	h.remote.trip = remoteWithData()

	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "upload push", func() bool { return h.remote.pushCount() > 0 })
	push := h.remote.lastPush()
	if push.Origin != "client_self" {
		t.Errorf("push origin = %q", push.Origin)
	}
	if len(push.Planner) == 0 || len(push.Status) == 0 {
		t.Error("upload-local must push both field groups")
	}
	uploaded := planner.Normalize(push.Planner)
	if uploaded.ItemCount() != 3 {
		t.Errorf("uploaded planner items = %d, want 3", uploaded.ItemCount())
	}
}

func TestConnectFailuresReturnToDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.authErr = errors.New("identity provider down")
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err == nil {
		t.Fatal("expected auth error")
	}
	if h.engine.State() != Disconnected {
		t.Errorf("state after auth failure = %v", h.engine.State())
	}

	h.remote.authErr = nil
	h.remote.fetchErr = errors.New("row missing")
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err == nil {
		t.Fatal("expected fetch error")
	}
	if h.engine.State() != Disconnected {
		t.Errorf("state after fetch failure = %v", h.engine.State())
	}
}

func TestConnectWhileConnectedIsBusy(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

func TestDebouncedPushCoalesces(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.mutateAddPlace(t, "p1")
	h.mutateAddPlace(t, "p2")
	h.mutateAddPlace(t, "p3")

	waitFor(t, "push", func() bool { return h.remote.pushCount() > 0 })
	// Let any stray timers fire.
	time.Sleep(60 * time.Millisecond)
	if got := h.remote.pushCount(); got != 1 {
		t.Errorf("rapid edits should coalesce into one push, got %d", got)
	}
	pushed := planner.Normalize(h.remote.lastPush().Planner)
	if pushed.ItemCount() != 3 {
		t.Errorf("pushed planner items = %d, want 3", pushed.ItemCount())
	}
}

func TestPushSendsOnlyAdvancedGroups(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.store.ToggleFavorite("p1")
	h.engine.MarkDirty(planner.DirtyStatus)
	waitFor(t, "status push", func() bool { return h.remote.pushCount() > 0 })
	push := h.remote.lastPush()
	if len(push.Status) == 0 {
		t.Error("status group should be pushed")
	}
	if len(push.Planner) != 0 {
		t.Error("planner group did not advance and must not be pushed")
	}
}

func TestPushRetriesOnFailure(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.remote.setUpdateErr(errors.New("network blip"))
	h.mutateAddPlace(t, "p1")

	// Give the first attempt and at least one retry a chance to fail.
	time.Sleep(80 * time.Millisecond)
	if h.remote.pushCount() != 0 {
		t.Fatal("pushes should be failing")
	}

	h.remote.setUpdateErr(nil)
	waitFor(t, "retried push", func() bool { return h.remote.pushCount() > 0 })
}

func TestEchoSuppression(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	renders := 0
	h.store.Subscribe(func() { renders++ })

	// Our own echo: must not replace state or re-render.
	h.remote.events <- notify.ChangeEvent{
		TripID:  "trip_1",
		Origin:  "client_self",
		Planner: json.RawMessage(`{"version":2,"days":[{"id":"echo","items":[{"id":"x","placeId":"echo_place"}]}]}`),
	}
	// Another client's update: adopted wholesale.
	h.remote.events <- notify.ChangeEvent{
		TripID:  "trip_1",
		Origin:  "client_other",
		Planner: json.RawMessage(`{"version":2,"days":[{"id":"other","title":"Theirs","items":[{"id":"y","placeId":"their_place"}]}]}`),
	}

	waitFor(t, "remote adoption", func() bool {
		p := h.store.Planner()
		return len(p.Days) == 1 && p.Days[0].Title == "Theirs"
	})
	if renders != 1 {
		t.Errorf("renders = %d, want exactly 1 (echo suppressed)", renders)
	}
	for _, d := range h.store.Planner().Days {
		if d.ID == "echo" {
			t.Error("echoed event must not replace state")
		}
	}
}

func TestDisconnectClearsConnection(t *testing.T) {
	local := localstate.Open(t.TempDir())
	remote := newFakeRemote()
	store := planner.NewStore(local, nil)
	engine := New(remote, store, local, nil, Options{ClientID: "client_self", PushDebounce: 15 * time.Millisecond, PushRetry: 20 * time.Millisecond})

	if err := engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn := local.LoadConnection(); conn.TripID != "trip_1" {
		t.Fatalf("connection not persisted: %+v", conn)
	}

	engine.Disconnect()
	if engine.State() != Disconnected {
		t.Errorf("state = %v", engine.State())
	}
	if conn := local.LoadConnection(); conn != (localstate.Connection{}) {
		t.Errorf("connection should be cleared, got %+v", conn)
	}
}

func TestSwitchTripFlushesAndResets(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Connect(context.Background(), "trip_1", "CODE"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.mutateAddPlace(t, "pending_edit")

	if err := h.engine.SwitchTrip(context.Background(), "trip_2", "CODE2"); err != nil {
		t.Fatalf("SwitchTrip: %v", err)
	}

	// The pending edit was flushed to the old trip before switching.
	found := false
	h.remote.mu.Lock()
	for _, push := range h.remote.pushes {
		if push.TripID == "trip_1" && len(push.Planner) > 0 {
			found = true
		}
	}
	h.remote.mu.Unlock()
	if !found {
		t.Error("pending push was not flushed to the old trip")
	}

	// Local state was reset before connecting to the new trip.
	pl := h.store.Planner()
	if n := pl.ItemCount(); n != 0 {
		t.Errorf("planner should be reset, has %d items", n)
	}
	if conn := h.engine.Connection(); conn.TripID != "trip_2" {
		t.Errorf("connection = %+v, want trip_2", conn)
	}
}
