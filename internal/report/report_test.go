package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"printflow/internal/config"
	"printflow/internal/db"
	"printflow/internal/domain"
	"printflow/internal/engine"
	"printflow/internal/migrate"
	"printflow/internal/report"
	"printflow/internal/workflow"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }

	admin, _, err := eng.BootstrapAdmin(ctx, "Admin", "")
	require.NoError(t, err)
	designer, err := eng.CreateUser(ctx, engine.CreateUserOptions{ActorID: admin.ID, Name: "Dan", Roles: []string{"DESIGNER"}})
	require.NoError(t, err)

	create := func(customer string) int64 {
		o, err := eng.CreateOrder(ctx, engine.CreateOrderOptions{ActorID: admin.ID, CustomerName: customer, Zone: "Ouest",
			Items: []domain.Item{{Kind: domain.ItemOneway, Type: "vitrine", Manuscript: "Soldes"}}})
		require.NoError(t, err)
		return o.ID
	}
	step := func(orderID, actor int64, action string, assignee int64) {
		a, err := workflow.ParseAction(action)
		require.NoError(t, err)
		_, err = eng.Transition(ctx, engine.TransitionOptions{OrderID: orderID, ActorID: actor, Action: a, AssigneeID: assignee, FileRef: "local://bat.pdf"})
		require.NoError(t, err)
	}

	create("Boulangerie Martin")
	awaiting := create("Hotel Miramar")
	step(awaiting, admin.ID, "assign:design", designer.ID)
	step(awaiting, designer.ID, "complete:design", 0)
	done := create("Cave Saint-Roch")
	step(done, admin.ID, "assign:design", designer.ID)
	step(done, designer.ID, "complete:design", 0)
	step(done, admin.ID, "validate:design", 0)
	return eng
}

func TestBuildCountsObservedStatuses(t *testing.T) {
	eng := seed(t)
	b, err := report.Build(context.Background(), eng.Repo, now)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 3, b.Active())
	assert.Len(t, b.Orders, len(domain.ObservedStatuses))
	assert.Equal(t, 1, b.Orders[domain.StatusCreated])
	assert.Equal(t, 1, b.Orders[domain.StatusDesignAwaitingValidation])
	assert.Equal(t, 1, b.Orders[domain.StatusPrintValidated])
	assert.Equal(t, 0, b.Orders[domain.StatusDesignInProgress])
	assert.Equal(t, 1, b.Tasks[domain.TaskDesign][domain.TaskDone])
	assert.Equal(t, 1, b.Tasks[domain.TaskDesign][domain.TaskValidated])
	assert.Equal(t, "2026-04-01T12:00:00Z", b.GeneratedAt)
	require.Len(t, b.Rows, 3)
	assert.Equal(t, "Cave Saint-Roch", b.Rows[0].CustomerName)
}

func TestSummarizeMatchesBuild(t *testing.T) {
	eng := seed(t)
	ctx := context.Background()
	full, err := report.Build(ctx, eng.Repo, now)
	require.NoError(t, err)
	sum, err := report.Summarize(ctx, eng.Repo, now)
	require.NoError(t, err)

	assert.Equal(t, full.Total, sum.Total)
	assert.Equal(t, full.Orders, sum.Orders)
	assert.Equal(t, full.Tasks, sum.Tasks)
	assert.Empty(t, sum.Rows)
	assert.Equal(t, 1, sum.Orders[domain.StatusDesignAwaitingValidation])
	assert.Equal(t, 0, sum.Orders[domain.StatusDesignInProgress])
}

func TestWriteXLSX(t *testing.T) {
	eng := seed(t)
	b, err := report.Build(context.Background(), eng.Repo, now)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteXLSX(&buf, b))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "Orders"}, f.GetSheetList())

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"Status", "Orders"}, summary[0])
	assert.Equal(t, []string{"CREATED", "1"}, summary[1])
	assert.Equal(t, []string{"TOTAL", "3"}, summary[len(domain.ObservedStatuses)+1])

	orders, err := f.GetRows("Orders")
	require.NoError(t, err)
	require.Len(t, orders, 4)
	assert.Equal(t, "Cave Saint-Roch", orders[1][1])
	assert.Equal(t, "PRINT_VALIDATED", orders[1][3])
}
