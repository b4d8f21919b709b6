package engine_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/config"
	"printflow/internal/db"
	"printflow/internal/domain"
	"printflow/internal/engine"
	"printflow/internal/engine/auth"
	"printflow/internal/migrate"
	"printflow/internal/notify"
	"printflow/internal/repo"
	"printflow/internal/storage"
	"printflow/internal/workflow"
)

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Emit(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.got {
		out = append(out, n.Event)
	}
	return out
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Sink     *recorder
	BlobDir  string
	Admin    int64
	Sales    int64
	Designer int64
	Printer  int64
	Driver   int64
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	blobDir := filepath.Join(dir, "blobs")
	blobs, err := storage.NewLocalStore(blobDir)
	require.NoError(t, err)
	sink := &recorder{}
	eng := engine.New(conn, config.Default())
	eng.Blobs = blobs
	eng.Notify = sink
	eng.Now = func() time.Time { return time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC) }

	admin, created, err := eng.BootstrapAdmin(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	require.True(t, created)
	env := testEnv{Engine: eng, Ctx: ctx, Sink: sink, BlobDir: blobDir, Admin: admin.ID}
	env.Sales = env.user(t, "Claire", domain.RoleCommercial)
	env.Designer = env.user(t, "Dan", domain.RoleDesigner)
	env.Printer = env.user(t, "Ines", domain.RoleImprimeur)
	env.Driver = env.user(t, "Luc", domain.RoleLogistique)
	return env
}

func (env testEnv) user(t *testing.T, name string, roles ...domain.Role) int64 {
	t.Helper()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	u, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{ActorID: env.Admin, Name: name, Roles: names})
	require.NoError(t, err)
	return u.ID
}

func (env testEnv) order(t *testing.T) engine.OrderView {
	t.Helper()
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{
		ActorID:      env.Sales,
		CustomerName: "Garage Renaud",
		Zone:         "Sud",
		Items: []domain.Item{
			{Kind: domain.ItemPanel, Type: "4x3", Height: 3, Width: 4, ContentTags: []string{"logo"}},
			{Kind: domain.ItemOneway, Type: "vitrine", Manuscript: "Vidange offerte"},
		},
	})
	require.NoError(t, err)
	return o
}

func (env testEnv) do(t *testing.T, orderID, actor int64, action string, assignee int64) engine.OrderView {
	t.Helper()
	a, err := workflow.ParseAction(action)
	require.NoError(t, err)
	v, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: orderID, ActorID: actor, Action: a, AssigneeID: assignee, FileRef: "local://x"})
	require.NoError(t, err, action)
	return v
}

func guardReason(t *testing.T, err error) workflow.Reason {
	t.Helper()
	gv, ok := workflow.AsGuardViolation(err)
	require.True(t, ok, "want guard violation, got %v", err)
	return gv.Reason
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	assert.Equal(t, domain.StatusCreated, o.Observed)
	assert.Empty(t, o.Tasks)

	v := env.do(t, o.ID, env.Admin, "assign:design", env.Designer)
	assert.Equal(t, domain.StatusDesignInProgress, v.Observed)

	pending, err := env.Engine.PendingTasks(env.Ctx, env.Designer)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Garage Renaud", pending[0].CustomerName)

	v, err = env.Engine.UploadDesign(env.Ctx, engine.UploadOptions{OrderID: o.ID, ActorID: env.Designer, Filename: "bat-v1.pdf", Content: []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDesignAwaitingValidation, v.Observed)
	require.NotNil(t, v.Tasks[0].UploadedFile)

	reject, _ := workflow.ParseAction("reject:design")
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Admin, Action: reject, Comment: "phone number is wrong"})
	require.NoError(t, err)

	pending, err = env.Engine.PendingTasks(env.Ctx, env.Designer)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskRejected, pending[0].Status)
	assert.Equal(t, "phone number is wrong", pending[0].RejectComment)

	v, err = env.Engine.UploadDesign(env.Ctx, engine.UploadOptions{OrderID: o.ID, ActorID: env.Designer, Filename: "bat-v2.pdf", Content: []byte("v2")})
	require.NoError(t, err)
	data, err := env.Engine.Blobs.Get(env.Ctx, *v.Tasks[0].UploadedFile)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	v = env.do(t, o.ID, env.Admin, "validate:design", 0)
	assert.Equal(t, domain.StatusPrintValidated, v.Observed)
	pending, err = env.Engine.PendingTasks(env.Ctx, env.Designer)
	require.NoError(t, err)
	assert.Empty(t, pending)

	env.do(t, o.ID, env.Admin, "assign:print", env.Printer)
	env.do(t, o.ID, env.Printer, "start:print", 0)
	v = env.do(t, o.ID, env.Printer, "complete:print", 0)
	assert.Equal(t, domain.StatusPrintAwaitingValidation, v.Observed)
	env.do(t, o.ID, env.Admin, "validate:print", 0)
	env.do(t, o.ID, env.Admin, "assign:delivery", env.Driver)
	env.do(t, o.ID, env.Driver, "complete:delivery", 0)
	v = env.do(t, o.ID, env.Admin, "validate:delivery", 0)
	assert.Equal(t, domain.StatusDeliveryValidatedFinal, v.Observed)
	v = env.do(t, o.ID, env.Admin, "move_to_stock", 0)
	assert.Equal(t, domain.StatusDoneInStock, v.Observed)
	require.Len(t, v.Tasks, 3)
	for _, task := range v.Tasks {
		assert.Equal(t, domain.TaskValidated, task.Status)
	}

	reviews, err := env.Engine.Reviews(env.Ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 4)
	assert.Equal(t, "rejected", reviews[0].Decision)
	assert.Equal(t, "phone number is wrong", reviews[0].Comment)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrderID: o.ID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, evts, 14)
	assert.Equal(t, "order.stocked", evts[0].Type)
	assert.Contains(t, env.Sink.events(), "task.rejected")
	assert.Equal(t, "order.stocked", env.Sink.events()[len(env.Sink.events())-1])
}

func TestCreateOrderRequiresCommercialOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{
		ActorID: env.Designer, CustomerName: "X",
		Items: []domain.Item{{Kind: domain.ItemOneway, Type: "a", Manuscript: "b"}},
	})
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)

	_, err = env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{ActorID: env.Sales, CustomerName: "X"})
	var ie *engine.InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "items", ie.Field)

	_, err = env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{
		ActorID: 999, CustomerName: "X",
		Items: []domain.Item{{Kind: domain.ItemOneway, Type: "a", Manuscript: "b"}},
	})
	var unknown auth.UnknownUserError
	assert.ErrorAs(t, err, &unknown)
}

func TestAssignRequiresStageRole(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	assign, _ := workflow.ParseAction("assign:design")

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Admin, Action: assign, AssigneeID: env.Printer})
	assert.Equal(t, workflow.ReasonInvalidAssignee, guardReason(t, err))
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Admin, Action: assign, AssigneeID: 4242})
	assert.Equal(t, workflow.ReasonInvalidAssignee, guardReason(t, err))
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Sales, Action: assign, AssigneeID: env.Designer})
	assert.Equal(t, workflow.ReasonWrongRole, guardReason(t, err))

	view, err := env.Engine.GetOrder(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, view.Status)
	assert.Equal(t, int64(1), view.Version)
}

func TestConcurrentDoubleValidate(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	env.do(t, o.ID, env.Admin, "assign:design", env.Designer)
	env.do(t, o.ID, env.Designer, "complete:design", 0)
	validate, _ := workflow.ParseAction("validate:design")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Admin, Action: validate})
		}(i)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repo.ErrConcurrentModification):
			refused++
		default:
			if _, isGuard := workflow.AsGuardViolation(err); isGuard {
				refused++
			}
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)

	view, err := env.Engine.GetOrder(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPrintValidated, view.Status)
	reviews, err := env.Engine.Reviews(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestExpectedVersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	assign, _ := workflow.ParseAction("assign:design")
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Admin, Action: assign, AssigneeID: env.Designer, ExpectedVersion: o.Version + 1})
	assert.ErrorIs(t, err, repo.ErrConcurrentModification)

	v, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Admin, Action: assign, AssigneeID: env.Designer, ExpectedVersion: o.Version})
	require.NoError(t, err)
	assert.Equal(t, o.Version+1, v.Version)
}

func TestUploadRefusedStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	env.do(t, o.ID, env.Admin, "assign:design", env.Designer)
	other := env.user(t, "Eve", domain.RoleDesigner)

	_, err := env.Engine.UploadDesign(env.Ctx, engine.UploadOptions{OrderID: o.ID, ActorID: other, Filename: "x.pdf", Content: []byte("x")})
	assert.Equal(t, workflow.ReasonNotAssignee, guardReason(t, err))
	entries, err := os.ReadDir(env.BlobDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = env.Engine.UploadDesign(env.Ctx, engine.UploadOptions{OrderID: o.ID, ActorID: env.Designer, Filename: "x.pdf"})
	var ie *engine.InputError
	assert.ErrorAs(t, err, &ie)

	complete, _ := workflow.ParseAction("complete:design")
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{OrderID: o.ID, ActorID: env.Designer, Action: complete})
	assert.Equal(t, workflow.ReasonFileRequired, guardReason(t, err))
}

// racingStore revokes the uploader's role between the upload precheck and
// the transition, so the stored blob is never referenced.
type racingStore struct {
	*storage.LocalStore
	race func()
}

func (s racingStore) Put(ctx context.Context, orderID int64, filename string, content []byte) (string, error) {
	ref, err := s.LocalStore.Put(ctx, orderID, filename, content)
	s.race()
	return ref, err
}

func TestUploadLosingRaceRemovesBlob(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	env.do(t, o.ID, env.Admin, "assign:design", env.Designer)

	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	var stored string
	eng := env.Engine
	eng.Blobs = racingStore{LocalStore: local, race: func() {
		_, err := env.Engine.SetRole(env.Ctx, env.Admin, env.Designer, "DESIGNER", false)
		require.NoError(t, err)
		entries, err := os.ReadDir(filepath.Join(local.Root, "orders", fmt.Sprint(o.ID)))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		stored = entries[0].Name()
	}}

	_, err = eng.UploadDesign(env.Ctx, engine.UploadOptions{OrderID: o.ID, ActorID: env.Designer, Filename: "bat.pdf", Content: []byte("%PDF")})
	assert.Equal(t, workflow.ReasonWrongRole, guardReason(t, err))
	require.NotEmpty(t, stored)
	_, err = local.Get(env.Ctx, fmt.Sprintf("local://orders/%d/%s", o.ID, stored))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAvailableActionsMatchesGuard(t *testing.T) {
	env := newTestEnv(t)
	o := env.order(t)
	actions, err := env.Engine.AvailableActions(env.Ctx, o.ID, env.Admin)
	require.NoError(t, err)
	assert.Equal(t, []workflow.Action{{Kind: workflow.ActionAssign, Stage: domain.TaskDesign}}, actions)

	actions, err = env.Engine.AvailableActions(env.Ctx, o.ID, env.Designer)
	require.NoError(t, err)
	assert.Empty(t, actions)

	_, err = env.Engine.AvailableActions(env.Ctx, o.ID+1, env.Admin)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListOrdersByObservedStatus(t *testing.T) {
	env := newTestEnv(t)
	a := env.order(t)
	b := env.order(t)
	env.do(t, a.ID, env.Admin, "assign:design", env.Designer)
	env.do(t, b.ID, env.Admin, "assign:design", env.Designer)
	env.do(t, b.ID, env.Designer, "complete:design", 0)

	awaiting, err := env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: string(domain.StatusDesignAwaitingValidation)})
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, b.ID, awaiting[0].ID)

	working, err := env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: string(domain.StatusDesignInProgress)})
	require.NoError(t, err)
	require.Len(t, working, 1)
	assert.Equal(t, a.ID, working[0].ID)

	_, err = env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: "LOST"})
	var ie *engine.InputError
	assert.ErrorAs(t, err, &ie)
}

func TestListOrdersObservedStatusPages(t *testing.T) {
	env := newTestEnv(t)
	var ids []int64
	for i := 0; i < 3; i++ {
		o := env.order(t)
		env.do(t, o.ID, env.Admin, "assign:design", env.Designer)
		ids = append(ids, o.ID)
	}
	env.do(t, ids[0], env.Designer, "complete:design", 0)

	awaiting, err := env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: string(domain.StatusDesignAwaitingValidation), Limit: 2})
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, ids[0], awaiting[0].ID)

	page, err := env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: string(domain.StatusDesignInProgress), Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)
	page, err = env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: string(domain.StatusDesignInProgress), Limit: 1, Cursor: page[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
	page, err = env.Engine.ListOrders(env.Ctx, repo.OrderFilters{Status: string(domain.StatusDesignInProgress), Limit: 1, Cursor: page[0].ID})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestUserAdministration(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{ActorID: env.Sales, Name: "Mallory"})
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)

	u, err := env.Engine.SetRole(env.Ctx, env.Admin, env.Designer, "imprimeur", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"DESIGNER", "IMPRIMEUR"}, u.Roles)

	_, err = env.Engine.SetRole(env.Ctx, env.Admin, env.Admin, "ADMIN", false)
	var ie *engine.InputError
	assert.ErrorAs(t, err, &ie)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, env.Sales, env.Designer, "ci")
	assert.ErrorAs(t, err, &fe)
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, env.Sales, 0, "laptop")
	require.NoError(t, err)
	assert.Equal(t, env.Sales, key.UserID)
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, key.ID, stored.ID)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, env.Sales, 0)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	_, err = env.Engine.ListAPIKeys(env.Ctx, env.Designer, env.Sales)
	assert.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, env.Designer, key.ID), repo.ErrNotFound)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, env.Sales, key.ID))
	_, err = env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	assert.ErrorIs(t, err, repo.ErrNotFound)
	keys, err = env.Engine.ListAPIKeys(env.Ctx, env.Admin, env.Sales)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, created, err := env.Engine.BootstrapAdmin(env.Ctx, "Other", "")
	require.NoError(t, err)
	assert.False(t, created)
}
