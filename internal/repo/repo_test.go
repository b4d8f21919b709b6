package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/db"
	"printflow/internal/domain"
	"printflow/internal/migrate"
)

const ts = "2026-03-01T09:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return Repo{DB: conn}
}

func withTx(t *testing.T, r Repo, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func seedUser(t *testing.T, r Repo, name string, roles ...domain.Role) int64 {
	t.Helper()
	var id int64
	withTx(t, r, func(tx *sql.Tx) {
		var err error
		id, err = r.InsertUserTx(context.Background(), tx, domain.User{Name: name, Email: name + "@example.com", CreatedAt: ts})
		require.NoError(t, err)
		for _, role := range roles {
			require.NoError(t, r.AssignRole(context.Background(), tx, id, role))
		}
	})
	return id
}

func seedOrder(t *testing.T, r Repo, createdBy int64) int64 {
	t.Helper()
	var id int64
	withTx(t, r, func(tx *sql.Tx) {
		var err error
		id, err = r.InsertOrderTx(context.Background(), tx, domain.Order{
			Status:       domain.StatusCreated,
			CustomerName: "Pharmacie du Port",
			Zone:         "Nord",
			Items: []domain.Item{
				{Position: 1, Kind: domain.ItemPanel, Type: "4x3", Height: 3, Width: 4, ContentTags: []string{"logo", "horaires"}},
				{Position: 2, Kind: domain.ItemOneway, Type: "vitrine", Manuscript: "Ouvert le dimanche"},
			},
			CreatedBy: createdBy,
			CreatedAt: ts,
			UpdatedAt: ts,
		})
		require.NoError(t, err)
	})
	return id
}

func TestOrderRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	uid := seedUser(t, r, "claire", domain.RoleCommercial)
	id := seedOrder(t, r, uid)

	o, err := r.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, o.Status)
	assert.Equal(t, int64(1), o.Version)
	require.Len(t, o.Items, 2)
	assert.Equal(t, []string{"logo", "horaires"}, o.Items[0].ContentTags)
	assert.Equal(t, "Ouvert le dimanche", o.Items[1].Manuscript)
	assert.Zero(t, o.Items[1].Width)

	_, err = r.GetOrder(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := r.ListOrders(ctx, OrderFilters{Status: string(domain.StatusCreated)})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrderVersionConflict(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := seedOrder(t, r, seedUser(t, r, "claire"))
	o, err := r.GetOrder(ctx, id)
	require.NoError(t, err)

	o.Status = domain.StatusDesignInProgress
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.UpdateOrderStatusTx(ctx, tx, o))
	})
	withTx(t, r, func(tx *sql.Tx) {
		assert.ErrorIs(t, r.UpdateOrderStatusTx(ctx, tx, o), ErrConcurrentModification)
	})
	fresh, err := r.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, domain.StatusDesignInProgress, fresh.Status)
}

func TestTaskUniquePerStage(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	designer := seedUser(t, r, "dan", domain.RoleDesigner)
	orderID := seedOrder(t, r, designer)
	task := domain.Task{OrderID: orderID, Type: domain.TaskDesign, AssigneeID: &designer, Status: domain.TaskAssigned, CreatedAt: ts, UpdatedAt: ts}

	var taskID int64
	withTx(t, r, func(tx *sql.Tx) {
		var err error
		taskID, err = r.InsertTaskTx(ctx, tx, task)
		require.NoError(t, err)
	})
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = r.InsertTaskTx(ctx, tx, task)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	require.NoError(t, tx.Rollback())

	tasks, err := r.ListTasksForOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	stored := tasks[0]
	assert.Equal(t, taskID, stored.ID)
	assert.Equal(t, designer, *stored.AssigneeID)
	assert.Nil(t, stored.UploadedFile)

	file := "local://designs/a.pdf"
	stored.Status = domain.TaskDone
	stored.UploadedFile = &file
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.UpdateTaskTx(ctx, tx, stored))
	})
	pending, err := r.ListTasks(ctx, TaskFilters{AssigneeID: designer, Statuses: []domain.TaskStatus{domain.TaskAssigned, domain.TaskRejected}})
	require.NoError(t, err)
	assert.Empty(t, pending)

	byOrder, err := r.ListTasksForOrders(ctx, []int64{orderID})
	require.NoError(t, err)
	require.Len(t, byOrder[orderID], 1)
	assert.Equal(t, file, *byOrder[orderID][0].UploadedFile)
}

func TestUserRolesAndKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := seedUser(t, r, "alice", domain.RoleAdmin, domain.RoleDesigner)

	roles, err := r.UserRoles(ctx, nil, id)
	require.NoError(t, err)
	assert.True(t, roles.Has(domain.RoleAdmin))
	assert.True(t, roles.Has(domain.RoleDesigner))

	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.RevokeRole(ctx, tx, id, domain.RoleDesigner))
	})
	u, err := r.GetUser(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN"}, u.Roles)

	admins, err := r.ListUsers(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, admins, 1)

	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", UserID: id, KeyHash: HashAPIKey("secret"), CreatedAt: ts}))
	key, err := r.GetAPIKeyByHash(ctx, HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, id, key.UserID)
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", UserID: seedUser(t, r, "bob"), KeyHash: HashAPIKey("other"), CreatedAt: ts}))
	keys, err := r.ListAPIKeys(ctx, id)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "k1", keys[0].ID)
	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), ErrNotFound)
}

func TestReminderLog(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	designer := seedUser(t, r, "dan", domain.RoleDesigner)
	orderID := seedOrder(t, r, designer)
	var taskID int64
	withTx(t, r, func(tx *sql.Tx) {
		var err error
		taskID, err = r.InsertTaskTx(ctx, tx, domain.Task{OrderID: orderID, Type: domain.TaskDesign, AssigneeID: &designer, Status: domain.TaskAssigned, CreatedAt: ts, UpdatedAt: ts})
		require.NoError(t, err)
	})

	sent, err := r.ReminderSent(ctx, taskID, 1)
	require.NoError(t, err)
	assert.False(t, sent)
	require.NoError(t, r.MarkReminded(ctx, taskID, 1, ts))
	sent, err = r.ReminderSent(ctx, taskID, 1)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = r.ReminderSent(ctx, taskID, 2)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestEventsAfterAscends(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, typ := range []string{"order.created", "task.assigned", "task.started"} {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,actor_id,payload_json) VALUES (?,?,'order',1,'{}')`, ts, typ)
		require.NoError(t, err)
	}
	evts, err := r.EventsAfter(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "task.assigned", evts[0].Type)
	assert.Equal(t, "task.started", evts[1].Type)

	evts, err = r.EventsAfter(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "order.created", evts[0].Type)
}

func TestCountsByStatus(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	designer := seedUser(t, r, "dan", domain.RoleDesigner)
	first := seedOrder(t, r, designer)
	seedOrder(t, r, designer)
	withTx(t, r, func(tx *sql.Tx) {
		_, err := r.InsertTaskTx(ctx, tx, domain.Task{OrderID: first, Type: domain.TaskDesign, AssigneeID: &designer, Status: domain.TaskAssigned, CreatedAt: ts, UpdatedAt: ts})
		require.NoError(t, err)
	})

	orders, err := r.CountOrdersByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.OrderStatus]int{domain.StatusCreated: 2}, orders)
	tasks, err := r.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tasks[domain.TaskDesign][domain.TaskAssigned])
}
