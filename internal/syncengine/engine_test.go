package syncengine

import (
	"sync"
	"testing"

	"github.com/hitoshi/weekplanner/internal/model"
)

type mockRecorder struct {
	mu            sync.Mutex
	fetchApplied  int
	staleDropped  int
	changeApplied int
	changeSkipped int
	listenerDrops int
}

func (m *mockRecorder) RecordFetchApplied(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchApplied++
}

func (m *mockRecorder) RecordStaleFetchDropped(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleDropped++
}

func (m *mockRecorder) RecordChangeEvent(_, _ string, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if applied {
		m.changeApplied++
	} else {
		m.changeSkipped++
	}
}

func (m *mockRecorder) RecordListenerDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenerDrops++
}

func dayGoal(id int64, scope, title string) model.Goal {
	return model.Goal{
		ID:       id,
		Kind:     model.KindDay,
		Title:    title,
		Priority: model.PriorityNormal,
		ScopeKey: scope,
		OwnerID:  "user-1",
	}
}

func weekGoal(id int64, scope, title string) model.Goal {
	g := dayGoal(id, scope, title)
	g.Kind = model.KindWeek
	return g
}

func TestApplyFetch_ReplacesBucket(t *testing.T) {
	rec := &mockRecorder{}
	e := New(WithRecorder(rec))

	ticket := e.BeginFetch(model.KindDay, "2025-11-14")
	ok := e.ApplyFetch(ticket, []model.Goal{dayGoal(1, "2025-11-14", "a"), dayGoal(2, "2025-11-14", "b")})

	if !ok {
		t.Fatal("ApplyFetch should apply a fresh result")
	}
	if got := e.Get(model.KindDay, "2025-11-14"); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	if !e.Loaded(model.KindDay, "2025-11-14") {
		t.Error("bucket should be marked loaded")
	}
	if rec.fetchApplied != 1 {
		t.Errorf("fetchApplied = %d, want 1", rec.fetchApplied)
	}
}

func TestApplyFetch_DropsResultOlderThanLocalMutation(t *testing.T) {
	rec := &mockRecorder{}
	e := New(WithRecorder(rec))

	ticket := e.BeginFetch(model.KindDay, "2025-11-14")
	e.ApplyLocalUpsert(dayGoal(-1, "2025-11-14", "optimistic"))

	ok := e.ApplyFetch(ticket, []model.Goal{})
	if ok {
		t.Fatal("ApplyFetch should drop a result that predates a local mutation")
	}
	got := e.Get(model.KindDay, "2025-11-14")
	if len(got) != 1 || got[0].Title != "optimistic" {
		t.Errorf("optimistic entry lost: %+v", got)
	}
	if rec.staleDropped != 1 {
		t.Errorf("staleDropped = %d, want 1", rec.staleDropped)
	}
}

// 初回取得中に届いた変更通知は取得結果を古くするが、取り直したチケットでは反映できる
func TestApplyFetch_RemoteChangeDuringFirstFetch(t *testing.T) {
	e := New()

	ticket := e.BeginFetch(model.KindWeek, "2025-W46")
	e.ApplyChange(model.ChangeEvent{
		Operation: model.OperationInsert,
		Kind:      model.KindWeek,
		Record:    weekGoal(3, "2025-W46", "remote"),
	})

	if e.ApplyFetch(ticket, []model.Goal{weekGoal(1, "2025-W46", "a"), weekGoal(2, "2025-W46", "b")}) {
		t.Fatal("fetch issued before the remote change should be dropped")
	}

	retry := e.BeginFetch(model.KindWeek, "2025-W46")
	all := []model.Goal{weekGoal(1, "2025-W46", "a"), weekGoal(2, "2025-W46", "b"), weekGoal(3, "2025-W46", "remote")}
	if !e.ApplyFetch(retry, all) {
		t.Fatal("fetch issued after the remote change should apply")
	}
	if got := e.Get(model.KindWeek, "2025-W46"); len(got) != 3 {
		t.Errorf("bucket = %+v, want 3 goals", got)
	}
}

func TestApplyFetch_MutationInOtherBucketDoesNotDrop(t *testing.T) {
	e := New()

	ticket := e.BeginFetch(model.KindDay, "2025-11-14")
	e.ApplyLocalUpsert(dayGoal(-1, "2025-11-15", "other day"))
	e.ApplyLocalUpsert(weekGoal(-2, "2025-11-14", "same key other kind"))

	if !e.ApplyFetch(ticket, []model.Goal{dayGoal(1, "2025-11-14", "a")}) {
		t.Error("mutations of other buckets must not invalidate the fetch")
	}
}

func TestApplyFetch_MutationBeforeTicketDoesNotDrop(t *testing.T) {
	e := New()

	e.ApplyLocalUpsert(dayGoal(-1, "2025-11-14", "earlier"))
	ticket := e.BeginFetch(model.KindDay, "2025-11-14")

	if !e.ApplyFetch(ticket, []model.Goal{dayGoal(1, "2025-11-14", "a")}) {
		t.Fatal("fetch issued after the mutation should be applied")
	}
	got := e.Get(model.KindDay, "2025-11-14")
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("bucket = %+v, want the fetched record only", got)
	}
}

func TestApplyFetch_SecondFetchWins(t *testing.T) {
	e := New()

	first := e.BeginFetch(model.KindWeek, "2025-W46")
	second := e.BeginFetch(model.KindWeek, "2025-W46")

	e.ApplyFetch(second, []model.Goal{weekGoal(2, "2025-W46", "new")})
	e.ApplyFetch(first, []model.Goal{weekGoal(1, "2025-W46", "old")})

	// 変更を伴わない取得同士は到着順で上書きされる
	got := e.Get(model.KindWeek, "2025-W46")
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("bucket = %+v", got)
	}
}

func TestApplyChange_InsertIsIdempotent(t *testing.T) {
	rec := &mockRecorder{}
	e := New(WithRecorder(rec))
	ev := model.ChangeEvent{
		Operation: model.OperationInsert,
		Kind:      model.KindDay,
		Record:    dayGoal(7, "2025-11-14", "remote"),
	}

	if !e.ApplyChange(ev) {
		t.Fatal("first application should change the cache")
	}
	if e.ApplyChange(ev) {
		t.Error("second application should be a no-op")
	}
	if got := e.Get(model.KindDay, "2025-11-14"); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
	if rec.changeApplied != 1 || rec.changeSkipped != 1 {
		t.Errorf("applied=%d skipped=%d, want 1/1", rec.changeApplied, rec.changeSkipped)
	}
}

func TestApplyChange_UpdateMergesRecord(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(7, "2025-11-14", "before"))

	updated := dayGoal(7, "2025-11-14", "after")
	updated.Completed = true
	e.ApplyChange(model.ChangeEvent{Operation: model.OperationUpdate, Kind: model.KindDay, Record: updated})

	got, ok := e.Find(model.KindDay, 7)
	if !ok || got.Title != "after" || !got.Completed {
		t.Errorf("got %+v", got)
	}
}

func TestApplyChange_DeleteUnknownIsNoop(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "keep"))

	applied := e.ApplyChange(model.ChangeEvent{
		Operation: model.OperationDelete,
		Kind:      model.KindDay,
		Record:    model.Goal{ID: 99},
	})
	if applied {
		t.Error("deleting an unknown id should not change the cache")
	}
	if got := e.Get(model.KindDay, "2025-11-14"); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestApplyChange_DeleteTwice(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "x"))
	ev := model.ChangeEvent{Operation: model.OperationDelete, Kind: model.KindDay, Record: model.Goal{ID: 1}}

	if !e.ApplyChange(ev) {
		t.Error("first delete should apply")
	}
	if e.ApplyChange(ev) {
		t.Error("second delete should be a no-op")
	}
}

func TestApplyChange_KindsAreIsolated(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "day"))
	e.ApplyLocalUpsert(weekGoal(1, "2025-W46", "week"))

	e.ApplyChange(model.ChangeEvent{Operation: model.OperationDelete, Kind: model.KindWeek, Record: model.Goal{ID: 1}})

	if _, ok := e.Find(model.KindDay, 1); !ok {
		t.Error("day goal with the same id must survive a week delete")
	}
	if _, ok := e.Find(model.KindWeek, 1); ok {
		t.Error("week goal should be removed")
	}
}

func TestApplyChange_UnknownOperation(t *testing.T) {
	e := New()
	if e.ApplyChange(model.ChangeEvent{Operation: "truncate", Kind: model.KindDay}) {
		t.Error("unknown operation must not apply")
	}
}

func TestApplyChange_FillsRecordKind(t *testing.T) {
	e := New()
	rec := dayGoal(3, "2025-W46", "w")
	rec.Kind = ""
	e.ApplyChange(model.ChangeEvent{Operation: model.OperationInsert, Kind: model.KindWeek, Record: rec})

	if _, ok := e.Find(model.KindWeek, 3); !ok {
		t.Error("record should be routed by the event kind")
	}
}

func TestReplaceProvisional_NoDuplicateWhenEchoArrivesFirst(t *testing.T) {
	e := New()
	prov := e.NewProvisional(model.KindDay, "2025-11-14", "user-1", model.GoalInput{Title: "Run", Priority: model.PriorityNormal})
	if !prov.IsProvisional() {
		t.Fatalf("provisional id = %d, want negative", prov.ID)
	}
	e.ApplyLocalUpsert(prov)

	confirmed := dayGoal(42, "2025-11-14", "Run")
	e.ApplyChange(model.ChangeEvent{Operation: model.OperationInsert, Kind: model.KindDay, Record: confirmed})
	e.ReplaceProvisional(model.KindDay, prov.ID, confirmed)

	got := e.Get(model.KindDay, "2025-11-14")
	if len(got) != 1 || got[0].ID != 42 {
		t.Errorf("bucket = %+v, want only the confirmed record", got)
	}
}

func TestReplaceProvisional_EchoAfterReplace(t *testing.T) {
	e := New()
	prov := e.NewProvisional(model.KindDay, "2025-11-14", "user-1", model.GoalInput{Title: "Run"})
	e.ApplyLocalUpsert(prov)

	confirmed := dayGoal(42, "2025-11-14", "Run")
	e.ReplaceProvisional(model.KindDay, prov.ID, confirmed)
	e.ApplyChange(model.ChangeEvent{Operation: model.OperationInsert, Kind: model.KindDay, Record: confirmed})

	got := e.Get(model.KindDay, "2025-11-14")
	if len(got) != 1 || got[0].ID != 42 {
		t.Errorf("bucket = %+v", got)
	}
}

func TestNewProvisional_IDsAreUnique(t *testing.T) {
	e := New()
	a := e.NewProvisional(model.KindDay, "d", "u", model.GoalInput{Title: "a"})
	b := e.NewProvisional(model.KindDay, "d", "u", model.GoalInput{Title: "b"})
	if a.ID == b.ID {
		t.Errorf("provisional ids collide: %d", a.ID)
	}
	if a.ID >= 0 || b.ID >= 0 {
		t.Errorf("provisional ids must be negative: %d, %d", a.ID, b.ID)
	}
}

func TestApplyLocalUpdate_MergesFields(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "title"))

	done := true
	got, ok := e.ApplyLocalUpdate(model.KindDay, 1, model.GoalUpdate{Completed: &done})
	if !ok {
		t.Fatal("ApplyLocalUpdate returned false")
	}
	if !got.Completed || got.Title != "title" {
		t.Errorf("merged = %+v", got)
	}
	cached, _ := e.Find(model.KindDay, 1)
	if !cached.Completed {
		t.Error("cache should hold the merged value")
	}
}

func TestApplyLocalUpdate_Missing(t *testing.T) {
	e := New()
	done := true
	if _, ok := e.ApplyLocalUpdate(model.KindDay, 5, model.GoalUpdate{Completed: &done}); ok {
		t.Error("update of a missing goal should report false")
	}
}

func TestApplyLocalRemove(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "x"))

	removed, ok := e.ApplyLocalRemove(model.KindDay, 1)
	if !ok || removed.ID != 1 {
		t.Fatalf("removed=%+v ok=%v", removed, ok)
	}
	if _, ok := e.ApplyLocalRemove(model.KindDay, 1); ok {
		t.Error("second remove should report false")
	}
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	e := New()
	ch, cancel := e.Subscribe()
	defer cancel()

	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "x"))

	ev := <-ch
	if ev.Type != EventGoalUpserted || ev.Source != SourceLocal || ev.GoalID != 1 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Goal == nil || ev.Goal.Title != "x" {
		t.Errorf("event goal = %+v", ev.Goal)
	}
}

func TestSubscribe_ScopeMoveEmitsRemoveAndUpsert(t *testing.T) {
	e := New()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "x"))
	ch, cancel := e.Subscribe()
	defer cancel()

	e.ApplyChange(model.ChangeEvent{Operation: model.OperationUpdate, Kind: model.KindDay, Record: dayGoal(1, "2025-11-15", "x")})

	first, second := <-ch, <-ch
	if first.Type != EventGoalRemoved || first.ScopeKey != "2025-11-14" {
		t.Errorf("first = %+v", first)
	}
	if second.Type != EventGoalUpserted || second.ScopeKey != "2025-11-15" {
		t.Errorf("second = %+v", second)
	}
}

// 追いつけない購読者は送信を止めず、再同期の合図を最後に受け取って解除される
func TestSubscribe_SlowListenerDoesNotBlock(t *testing.T) {
	rec := &mockRecorder{}
	e := New(WithRecorder(rec))
	ch, cancel := e.Subscribe()
	defer cancel()

	for i := 1; i <= DefaultListenerBuffer+5; i++ {
		e.ApplyLocalUpsert(dayGoal(int64(i), "2025-11-14", "x"))
	}

	if rec.listenerDrops != 1 {
		t.Errorf("listenerDrops = %d, want 1", rec.listenerDrops)
	}
	if e.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", e.ListenerCount())
	}

	var received []CacheEvent
	for ev := range ch {
		received = append(received, ev)
	}
	if len(received) != DefaultListenerBuffer {
		t.Fatalf("received %d events, want %d", len(received), DefaultListenerBuffer)
	}
	for i, ev := range received[:DefaultListenerBuffer-1] {
		if ev.Type != EventGoalUpserted || ev.GoalID != int64(i+1) {
			t.Fatalf("event %d = %+v, want upsert of goal %d", i, ev, i+1)
		}
	}
	if last := received[len(received)-1]; last.Type != EventResyncRequired {
		t.Errorf("last event = %+v, want %s", last, EventResyncRequired)
	}
}

// 解除された購読者がいても他の購読者への配信は続く
func TestSubscribe_OverflowDoesNotAffectOtherListeners(t *testing.T) {
	e := New()
	_, cancelSlow := e.Subscribe()
	defer cancelSlow()

	fast, cancelFast := e.Subscribe()
	defer cancelFast()

	for i := 1; i <= DefaultListenerBuffer+5; i++ {
		e.ApplyLocalUpsert(dayGoal(int64(i), "2025-11-14", "x"))
		if ev := <-fast; ev.GoalID != int64(i) {
			t.Fatalf("fast listener got %+v, want goal %d", ev, i)
		}
	}
	if e.ListenerCount() != 1 {
		t.Errorf("ListenerCount = %d, want 1", e.ListenerCount())
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	e := New()
	ch, cancel := e.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if e.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", e.ListenerCount())
	}

	// 購読解除後の更新は安全に行える
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "x"))
}

func TestReset_ClearsStateAndListeners(t *testing.T) {
	e := New()
	ch, _ := e.Subscribe()
	e.ApplyLocalUpsert(dayGoal(1, "2025-11-14", "x"))
	<-ch

	e.Reset()

	if e.Loaded(model.KindDay, "2025-11-14") {
		t.Error("cache should be empty after Reset")
	}
	if _, ok := <-ch; ok {
		t.Error("listener should be closed by Reset")
	}
}

func TestEngine_ConcurrentApply(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		id := int64(i)
		go func() {
			defer wg.Done()
			e.ApplyLocalUpsert(dayGoal(id, "2025-11-14", "local"))
		}()
		go func() {
			defer wg.Done()
			e.ApplyChange(model.ChangeEvent{Operation: model.OperationInsert, Kind: model.KindDay, Record: dayGoal(id, "2025-11-14", "local")})
		}()
	}
	wg.Wait()

	if got := e.Get(model.KindDay, "2025-11-14"); len(got) != 50 {
		t.Errorf("len = %d, want 50 without duplicates", len(got))
	}
}
