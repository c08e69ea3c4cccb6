package engine

import (
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/GeneralTask/task-manager-sub001/api"
	"github.com/GeneralTask/task-manager-sub001/cache"
	"github.com/GeneralTask/task-manager-sub001/client"
	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/queue"
	"github.com/GeneralTask/task-manager-sub001/storage"
)

var testSecret = []byte("engine-test-secret")

// recordingBackend forwards to the real REST client and lets tests hold or
// fail individual operations.
type recordingBackend struct {
	*client.Client

	mu    sync.Mutex
	calls []string
	gates map[string]chan struct{}
	fails map[string]error
}

func (b *recordingBackend) before(ctx context.Context, op, id string) error {
	b.mu.Lock()
	b.calls = append(b.calls, op+" "+id)
	gate := b.gates[op]
	err := b.fails[op]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// hold blocks op until the returned func is called.
func (b *recordingBackend) hold(t *testing.T, op string) func() {
	t.Helper()
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[op] = gate
	b.mu.Unlock()
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func (b *recordingBackend) fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails[op] = err
}

func (b *recordingBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *recordingBackend) ModifyTask(ctx context.Context, taskID string, delta domain.TaskModify) error {
	if err := b.before(ctx, "modify task", taskID); err != nil {
		return err
	}
	return b.Client.ModifyTask(ctx, taskID, delta)
}

func (b *recordingBackend) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (string, error) {
	if err := b.before(ctx, "create task", req.IDTaskSection); err != nil {
		return "", err
	}
	return b.Client.CreateTask(ctx, req)
}

func (b *recordingBackend) CreateFolder(ctx context.Context, req domain.CreateFolderRequest) (string, error) {
	if err := b.before(ctx, "create folder", req.Name); err != nil {
		return "", err
	}
	return b.Client.CreateFolder(ctx, req)
}

func (b *recordingBackend) ModifyFolder(ctx context.Context, folderID string, delta domain.FolderModify) error {
	if err := b.before(ctx, "modify folder", folderID); err != nil {
		return err
	}
	return b.Client.ModifyFolder(ctx, folderID, delta)
}

func (b *recordingBackend) ReorderView(ctx context.Context, viewID string, idOrdering int) error {
	if err := b.before(ctx, "reorder view", viewID); err != nil {
		return err
	}
	return b.Client.ReorderView(ctx, viewID, idOrdering)
}

type harness struct {
	engine  *Engine
	backend *recordingBackend
	store   *cache.Store
	notes   chan queue.Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()

	e := echo.New()
	repo := storage.NewRepository(storage.NewMemory(), uuid.NewString, logger)
	api.Register(e, repo, api.NewAuth(nil, api.AuthConfig{SharedSecret: testSecret}), logger, api.Options{})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-" + t.Name(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	backend := &recordingBackend{
		Client: client.New(srv.URL, token),
		gates:  make(map[string]chan struct{}),
		fails:  make(map[string]error),
	}
	store := cache.New(logger, nil)
	notes := make(chan queue.Notification, 16)
	q := queue.New(queue.Options{
		Invalidator:     store,
		Notifier:        queue.NotifierFunc(func(n queue.Notification) { notes <- n }),
		Logger:          logger,
		MutationTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return &harness{engine: New(backend, store, q, logger), backend: backend, store: store, notes: notes}
}

// seedInbox creates tasks on the server so the inbox lists titles in order,
// then loads the engine.
func (h *harness) seedInbox(t *testing.T, titles ...string) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, len(titles))
	for i := len(titles) - 1; i >= 0; i-- {
		id, err := h.backend.Client.CreateTask(ctx, domain.CreateTaskRequest{Title: titles[i]})
		if err != nil {
			t.Fatalf("create %s: %v", titles[i], err)
		}
		ids[i] = id
	}
	if err := h.engine.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	return ids
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.engine.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func folderTitles(t *testing.T, folders []domain.Folder, folderID string) []string {
	t.Helper()
	fi := domain.FindFolder(folders, folderID)
	if fi < 0 {
		t.Fatalf("folder %s missing", folderID)
	}
	out := make([]string, len(folders[fi].Tasks))
	for i, it := range folders[fi].Tasks {
		if it.IDOrdering != i {
			t.Fatalf("task %s has ordering %d at index %d", it.Title, it.IDOrdering, i)
		}
		out[i] = it.Title
	}
	return out
}

func viewNames(views []domain.View) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Name
	}
	return out
}

func wait(t *testing.T, it *queue.Intent) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := it.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("intent %s never settled", it.Name)
	}
	return err
}

func TestDropToEndIsOptimisticThenConfirmed(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1", "T2", "T3")
	release := h.backend.hold(t, "modify task")

	it, err := h.engine.Drop(
		domain.TaskDrag{TaskID: h.engine.Folders()[0].Tasks[0].ID, FolderID: domain.DefaultFolderID, Index: 0},
		domain.Drop{ListID: domain.DefaultFolderID, Position: domain.DropEnd},
	)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	// The server has not answered yet.
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T2", "T3", "T1"}) {
		t.Fatalf("unexpected optimistic order %v", got)
	}
	if !h.store.Get(KeyFolders).Optimistic {
		t.Fatalf("expected optimistic snapshot")
	}
	inbox := h.engine.Views()[0]
	if titles := []string{inbox.ViewItems[0].Title, inbox.ViewItems[1].Title, inbox.ViewItems[2].Title}; !reflect.DeepEqual(titles, []string{"T2", "T3", "T1"}) {
		t.Fatalf("inbox view not synced: %v", titles)
	}

	release()
	if err := wait(t, it); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	h.settle(t)

	if h.store.Get(KeyFolders).Optimistic {
		t.Fatalf("expected refetched snapshot")
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T2", "T3", "T1"}) {
		t.Fatalf("unexpected server order %v", got)
	}
}

func TestDropIntoDoneFolderHasNoEffect(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1")
	folders := h.engine.Folders()
	before := h.store.Get(KeyFolders).Version
	done := folders[domain.DoneFolder(folders)].ID

	_, err := h.engine.Drop(
		domain.TaskDrag{TaskID: folders[0].Tasks[0].ID, FolderID: domain.DefaultFolderID, Index: 0},
		domain.Drop{ListID: done, Position: domain.DropEnd},
	)
	if !errors.Is(err, domain.ErrProtectedList) {
		t.Fatalf("expected protected list, got %v", err)
	}
	if _, err := h.engine.Drop(
		domain.TaskDrag{TaskID: folders[0].Tasks[0].ID, FolderID: domain.DefaultFolderID, Index: 0},
		domain.Drop{ListID: domain.DefaultFolderID, TargetIndex: 0, Position: domain.DropBefore},
	); !errors.Is(err, domain.ErrNoopMove) {
		t.Fatalf("expected noop move, got %v", err)
	}
	h.settle(t)
	if calls := h.backend.Calls(); len(calls) != 0 {
		t.Fatalf("expected no server calls, got %v", calls)
	}
	if h.store.Get(KeyFolders).Version != before {
		t.Fatalf("cache changed by a refused drop")
	}
}

func TestDropBeforeLoad(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Drop(domain.FolderDrag{FolderID: "f", Index: 0}, domain.Drop{ListID: domain.FoldersListID})
	if !errors.Is(err, errNotLoaded) {
		t.Fatalf("expected not loaded error, got %v", err)
	}
}

func TestFailedMoveRollsBackAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1", "T2", "T3")
	before := h.engine.Folders()
	h.backend.fail("modify task", &domain.ValidationError{Op: "modify task", Status: 500, Message: "boom"})

	it, err := h.engine.MoveTask(before[0].Tasks[0].ID, domain.DefaultFolderID, 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := wait(t, it); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !reflect.DeepEqual(h.engine.Folders(), before) {
		t.Fatalf("folders not restored: %+v", h.engine.Folders())
	}

	select {
	case n := <-h.notes:
		if n.Name != "move task" || n.Tag != TagTasks {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification")
	}
	h.settle(t)
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T1", "T2", "T3"}) {
		t.Fatalf("unexpected order after refetch %v", got)
	}
}

func TestSameTagMutationsKeepSubmissionOrder(t *testing.T) {
	h := newHarness(t)
	ids := h.seedInbox(t, "T1", "T2", "T3")
	release := h.backend.hold(t, "modify task")

	if _, err := h.engine.MoveTask(ids[0], domain.DefaultFolderID, 2); err != nil {
		t.Fatalf("first move: %v", err)
	}
	if _, err := h.engine.MoveTask(ids[2], domain.DefaultFolderID, 0); err != nil {
		t.Fatalf("second move: %v", err)
	}
	optimistic := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID)
	if !reflect.DeepEqual(optimistic, []string{"T3", "T2", "T1"}) {
		t.Fatalf("unexpected optimistic order %v", optimistic)
	}

	release()
	h.settle(t)
	if calls := h.backend.Calls(); !reflect.DeepEqual(calls, []string{"modify task " + ids[0], "modify task " + ids[2]}) {
		t.Fatalf("unexpected call order %v", calls)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, optimistic) {
		t.Fatalf("server order %v differs from optimistic %v", got, optimistic)
	}
}

func TestMoveThereAndBackRestoresOrder(t *testing.T) {
	h := newHarness(t)
	ids := h.seedInbox(t, "T1", "T2", "T3")
	before := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID)

	if _, err := h.engine.MoveTask(ids[0], domain.DefaultFolderID, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := h.engine.MoveTask(ids[0], domain.DefaultFolderID, 0); err != nil {
		t.Fatalf("move back: %v", err)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, before) {
		t.Fatalf("optimistic round trip gave %v", got)
	}
	h.settle(t)
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, before) {
		t.Fatalf("server round trip gave %v", got)
	}
}

func TestCreatedTaskIsUsableBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1")
	release := h.backend.hold(t, "create task")

	optimisticID, created, err := h.engine.CreateTask("", "new", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"new", "T1"}) {
		t.Fatalf("unexpected optimistic inbox %v", got)
	}
	if _, err := h.engine.MoveTask(optimisticID, domain.DefaultFolderID, 1); err != nil {
		t.Fatalf("move optimistic task: %v", err)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T1", "new"}) {
		t.Fatalf("unexpected inbox after move %v", got)
	}

	release()
	if err := wait(t, created); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	h.settle(t)

	serverID := h.engine.ResolveID(optimisticID)
	if serverID == optimisticID {
		t.Fatalf("optimistic id was never confirmed")
	}
	calls := h.backend.Calls()
	if len(calls) != 2 || calls[1] != "modify task "+serverID {
		t.Fatalf("move did not use the server id: %v", calls)
	}
	folders := h.engine.Folders()
	if got := folderTitles(t, folders, domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T1", "new"}) {
		t.Fatalf("unexpected server inbox %v", got)
	}
	if folders[0].Tasks[1].ID != serverID {
		t.Fatalf("cached task carries %s, want %s", folders[0].Tasks[1].ID, serverID)
	}
}

func TestFailedCreateRemovesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1")
	h.backend.fail("create task", &domain.NetworkError{Op: "create task", Err: errors.New("connection refused")})

	optimisticID, it, err := h.engine.CreateTask("", "lost", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := wait(t, it); !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Fatalf("placeholder survived: %v", got)
	}
	if h.engine.ResolveID(optimisticID) != optimisticID {
		t.Fatalf("failed create must not map ids")
	}
}

func TestCreateEmptyTitleIsRefusedLocally(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t)
	if _, _, err := h.engine.CreateTask("", "  ", ""); err == nil {
		t.Fatalf("expected error for blank title")
	}
	if calls := h.backend.Calls(); len(calls) != 0 {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestTaskInPendingFolderWaitsForFolder(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t)
	release := h.backend.hold(t, "create folder")

	folderID, _, err := h.engine.CreateFolder("Work")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	_, task, err := h.engine.CreateTask(folderID, "plan", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if got := folderTitles(t, h.engine.Folders(), folderID); !reflect.DeepEqual(got, []string{"plan"}) {
		t.Fatalf("task not placed in optimistic folder: %v", got)
	}
	if task.State().Terminal() {
		t.Fatalf("task settled before its folder existed")
	}

	release()
	if err := wait(t, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	h.settle(t)

	serverFolder := h.engine.ResolveID(folderID)
	if got := folderTitles(t, h.engine.Folders(), serverFolder); !reflect.DeepEqual(got, []string{"plan"}) {
		t.Fatalf("server folder holds %v", got)
	}
}

func TestViewDragReordersOverview(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1")
	_, it, err := h.engine.AddView(domain.ViewDueToday, "")
	if err != nil {
		t.Fatalf("add view: %v", err)
	}
	if err := wait(t, it); err != nil {
		t.Fatalf("add view failed: %v", err)
	}
	h.settle(t)
	if got := viewNames(h.engine.Views()); !reflect.DeepEqual(got, []string{"Task Inbox", "Due Today"}) {
		t.Fatalf("unexpected views %v", got)
	}

	release := h.backend.hold(t, "reorder view")
	views := h.engine.Views()
	if _, err := h.engine.Drop(
		domain.ViewDrag{ViewID: views[1].ID, Index: 1},
		domain.Drop{ListID: domain.OverviewListID, TargetIndex: 0, Position: domain.DropBefore},
	); err != nil {
		t.Fatalf("drop view: %v", err)
	}
	if got := viewNames(h.engine.Views()); !reflect.DeepEqual(got, []string{"Due Today", "Task Inbox"}) {
		t.Fatalf("unexpected optimistic views %v", got)
	}
	release()
	h.settle(t)
	got := h.engine.Views()
	if names := viewNames(got); !reflect.DeepEqual(names, []string{"Due Today", "Task Inbox"}) {
		t.Fatalf("unexpected server views %v", names)
	}
	for i, v := range got {
		if v.IDOrdering != i {
			t.Fatalf("view %s has ordering %d at %d", v.Name, v.IDOrdering, i)
		}
	}
	if _, err := h.engine.Drop(domain.ViewDrag{ViewID: got[0].ID, Index: 0}, domain.Drop{ListID: domain.DefaultFolderID}); !errors.Is(err, domain.ErrProtectedList) {
		t.Fatalf("views cannot be dropped into folders, got %v", err)
	}
}

func TestFolderDragReordersFolders(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t)
	_, it, err := h.engine.CreateFolder("Work")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := wait(t, it); err != nil {
		t.Fatalf("create folder failed: %v", err)
	}
	h.settle(t)

	folders := h.engine.Folders()
	work := 1
	if folders[work].Name != "Work" {
		t.Fatalf("unexpected folders %+v", folders)
	}
	if _, err := h.engine.Drop(
		domain.FolderDrag{FolderID: folders[work].ID, Index: work},
		domain.Drop{ListID: domain.FoldersListID, TargetIndex: 0, Position: domain.DropBefore},
	); err != nil {
		t.Fatalf("drop folder: %v", err)
	}
	if h.engine.Folders()[0].Name != "Work" {
		t.Fatalf("folder not moved optimistically")
	}
	h.settle(t)
	folders = h.engine.Folders()
	if folders[0].Name != "Work" || folders[0].IDOrdering != 0 || folders[1].ID != domain.DefaultFolderID {
		t.Fatalf("unexpected server folders %+v", folders)
	}
}

func TestMoveSharesUntouchedFolders(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1", "T2")
	folderID, it, err := h.engine.CreateFolder("Work")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := wait(t, it); err != nil {
		t.Fatalf("create folder failed: %v", err)
	}
	if _, it, err = h.engine.CreateTask(folderID, "W1", ""); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := wait(t, it); err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	h.settle(t)

	before := h.engine.Folders()
	work := domain.FindFolder(before, h.engine.ResolveID(folderID))
	release := h.backend.hold(t, "modify task")
	if _, err := h.engine.MoveTask(before[0].Tasks[0].ID, domain.DefaultFolderID, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	after := h.engine.Folders()
	if &after[work].Tasks[0] != &before[work].Tasks[0] {
		t.Fatalf("untouched folder was copied")
	}
	if &after[0].Tasks[0] == &before[0].Tasks[0] {
		t.Fatalf("moved folder shares its task slice")
	}
	if before[0].Tasks[0].Title != "T1" {
		t.Fatalf("previous snapshot was modified")
	}
	release()
	h.settle(t)
}

func TestDeleteFolderDropsItsView(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t)
	folderID, _, err := h.engine.CreateFolder("Work")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if _, _, err := h.engine.CreateTask(folderID, "W1", ""); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, _, err := h.engine.AddView(domain.ViewTaskSection, folderID); err != nil {
		t.Fatalf("add view: %v", err)
	}
	h.settle(t)
	if got := viewNames(h.engine.Views()); !reflect.DeepEqual(got, []string{"Task Inbox", "Work"}) {
		t.Fatalf("unexpected views %v", got)
	}

	if _, err := h.engine.DeleteFolder(folderID); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	if got := viewNames(h.engine.Views()); !reflect.DeepEqual(got, []string{"Task Inbox"}) {
		t.Fatalf("view of deleted folder kept: %v", got)
	}
	folders := h.engine.Folders()
	if got := folderTitles(t, folders, folders[domain.TrashFolder(folders)].ID); !reflect.DeepEqual(got, []string{"W1"}) {
		t.Fatalf("tasks not trashed: %v", got)
	}
	h.settle(t)
	folders = h.engine.Folders()
	if domain.FindFolder(folders, h.engine.ResolveID(folderID)) >= 0 {
		t.Fatalf("folder still on the server")
	}
	if got := folderTitles(t, folders, folders[domain.TrashFolder(folders)].ID); !reflect.DeepEqual(got, []string{"W1"}) {
		t.Fatalf("server trash holds %v", got)
	}
}

func TestMarkDoneMovesToDoneFolder(t *testing.T) {
	h := newHarness(t)
	ids := h.seedInbox(t, "T1", "T2")
	if _, err := h.engine.MarkTaskDone(ids[1], true); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	folders := h.engine.Folders()
	done := folders[domain.DoneFolder(folders)].ID
	if got := folderTitles(t, folders, done); !reflect.DeepEqual(got, []string{"T2"}) {
		t.Fatalf("unexpected done folder %v", got)
	}
	h.settle(t)
	if got := folderTitles(t, h.engine.Folders(), done); !reflect.DeepEqual(got, []string{"T2"}) {
		t.Fatalf("unexpected server done folder %v", got)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Fatalf("unexpected server inbox %v", got)
	}
}

func TestPollPicksUpServerChanges(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t, "T1")
	if _, err := h.backend.Client.CreateTask(context.Background(), domain.CreateTaskRequest{Title: "elsewhere"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	stop := h.store.Watch(KeyFolders, func(cache.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()
	go h.engine.Poll(ctx, 10*time.Millisecond)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("poll never refetched")
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"elsewhere", "T1"}) {
		t.Fatalf("unexpected inbox %v", got)
	}
}

func TestOtherLaneDrainKeepsPendingPatch(t *testing.T) {
	h := newHarness(t)
	ids := h.seedInbox(t, "T1", "T2", "T3")
	release := h.backend.hold(t, "create folder")

	folderID, created, err := h.engine.CreateFolder("Pending")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	moved, err := h.engine.MoveTask(ids[0], domain.DefaultFolderID, 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := wait(t, moved); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	// The tasks lane drains while the folder create is still in flight.
	for end := time.Now().Add(100 * time.Millisecond); time.Now().Before(end); time.Sleep(5 * time.Millisecond) {
		if domain.FindFolder(h.engine.Folders(), folderID) < 0 {
			t.Fatalf("refetch dropped the optimistic folder while %s was %s", created.Name, created.State())
		}
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T2", "T3", "T1"}) {
		t.Fatalf("unexpected inbox %v", got)
	}

	release()
	if err := wait(t, created); err != nil {
		t.Fatalf("create folder failed: %v", err)
	}
	h.settle(t)
	folders := h.engine.Folders()
	if fi := domain.FindFolder(folders, h.engine.ResolveID(folderID)); fi < 0 || folders[fi].Name != "Pending" {
		t.Fatalf("server folders %+v", folders)
	}
	if got := folderTitles(t, folders, domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T2", "T3", "T1"}) {
		t.Fatalf("unexpected server inbox %v", got)
	}
}

func TestDropUsesCachedSourceIndex(t *testing.T) {
	h := newHarness(t)
	ids := h.seedInbox(t, "T1", "T2", "T3")

	// T3 is already last; the drag source reports a stale index.
	_, err := h.engine.Drop(
		domain.TaskDrag{TaskID: ids[2], FolderID: domain.DefaultFolderID, Index: 0},
		domain.Drop{ListID: domain.DefaultFolderID, Position: domain.DropEnd},
	)
	if !errors.Is(err, domain.ErrNoopMove) {
		t.Fatalf("expected noop move, got %v", err)
	}
	if _, err := h.engine.Drop(
		domain.ViewDrag{ViewID: h.engine.Views()[0].ID, Index: 3},
		domain.Drop{ListID: domain.OverviewListID, TargetIndex: 0, Position: domain.DropBefore},
	); !errors.Is(err, domain.ErrNoopMove) {
		t.Fatalf("expected noop view move, got %v", err)
	}
	if _, err := h.engine.Drop(domain.TaskDrag{TaskID: "missing"}, domain.Drop{ListID: domain.DefaultFolderID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls := h.backend.Calls(); len(calls) != 0 {
		t.Fatalf("refused drops reached the server: %v", calls)
	}

	it, err := h.engine.Drop(
		domain.TaskDrag{TaskID: ids[2], FolderID: domain.DefaultFolderID, Index: 0},
		domain.Drop{ListID: domain.DefaultFolderID, TargetIndex: 0, Position: domain.DropBefore},
	)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := folderTitles(t, h.engine.Folders(), domain.DefaultFolderID); !reflect.DeepEqual(got, []string{"T3", "T1", "T2"}) {
		t.Fatalf("unexpected optimistic order %v", got)
	}
	if err := wait(t, it); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	h.settle(t)
}

func TestCreateBookkeepingIsReleased(t *testing.T) {
	h := newHarness(t)
	h.seedInbox(t)
	h.backend.fail("create task", &domain.NetworkError{Op: "create task", Err: errors.New("offline")})
	for i := 0; i < 10; i++ {
		_, it, err := h.engine.CreateTask("", "lost", "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := wait(t, it); err == nil {
			t.Fatalf("create unexpectedly succeeded")
		}
	}
	h.backend.fail("create task", nil)
	if _, it, err := h.engine.CreateTask("", "kept", ""); err != nil {
		t.Fatalf("create: %v", err)
	} else if err := wait(t, it); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	h.settle(t)
	if n := h.engine.pendingCreates(); n != 0 {
		t.Fatalf("%d create entries left behind", n)
	}
}

func TestReconcileLogsPatchFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := cache.New(logger, nil)
	e := New(nil, store, nil, logger)
	store.Set(KeyFolders, "not folders")

	e.reconcile("opt-1", "srv-1")
	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "reconcile failed" && entry.Data["key"] == string(KeyFolders) {
			found = true
		}
	}
	if !found {
		t.Fatalf("reconcile failure was not logged: %v", hook.AllEntries())
	}
}
