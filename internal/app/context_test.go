package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/config"
	"printflow/internal/domain"
	"printflow/internal/notify"
	"printflow/internal/repo"
)

func TestOpenBootstrapsAdminOnce(t *testing.T) {
	ws := t.TempDir()
	cfg := config.Default()
	cfg.Logging.Output = filepath.Join(ws, "printflow.log")
	cfg.Bootstrap.Admin.Name = "Nadia"

	rt, err := Open(context.Background(), ws, cfg)
	require.NoError(t, err)
	users, err := rt.Engine.Repo.ListUsers(context.Background(), domain.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Nadia", users[0].Name)
	require.NoError(t, rt.Close())

	rt, err = Open(context.Background(), ws, cfg)
	require.NoError(t, err)
	defer rt.Close()
	n, err := rt.Engine.Repo.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenReadsWorkspaceConfigAndEnv(t *testing.T) {
	ws := t.TempDir()
	yml := "storage:\n  dir: blobs\nnotifications:\n  log: false\nlogging:\n  output: " + filepath.Join(ws, "out.log") + "\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(yml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".env"), []byte("PRINTFLOW_JWT_SECRET=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PRINTFLOW_JWT_SECRET") })

	rt, err := Open(context.Background(), ws, nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, "from-dotenv", rt.Config.Server.JWTSecret)
	assert.IsType(t, notify.Nop{}, rt.Engine.Notify)

	ref, err := rt.Engine.Blobs.Put(context.Background(), 1, "bat.pdf", []byte("pdf"))
	require.NoError(t, err)
	assert.Contains(t, ref, "local://")
	_, err = os.Stat(filepath.Join(ws, "blobs"))
	assert.NoError(t, err)
}

func TestRemindersShareEngineSinks(t *testing.T) {
	ws := t.TempDir()
	cfg := config.Default()
	cfg.Logging.Output = filepath.Join(ws, "printflow.log")
	cfg.Reminders.StaleAfter = "2h"
	rt, err := Open(context.Background(), ws, cfg)
	require.NoError(t, err)
	defer rt.Close()

	svc := rt.Reminders()
	assert.Equal(t, rt.Engine.Notify, svc.Notify)
	assert.Equal(t, "2h0m0s", svc.StaleAfter.String())
	_, err = rt.Engine.Repo.ListTasks(context.Background(), repo.TaskFilters{})
	assert.NoError(t, err)
}
