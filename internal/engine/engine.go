package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"printflow/internal/config"
	"printflow/internal/domain"
	"printflow/internal/engine/auth"
	"printflow/internal/events"
	"printflow/internal/logging"
	"printflow/internal/notify"
	"printflow/internal/repo"
	"printflow/internal/storage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Events events.Writer
	Blobs  storage.Store
	Notify notify.Sink
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Auth:   auth.Service{Repo: r},
		Events: events.Writer{},
		Notify: notify.Nop{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Log)
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) emit(ctx context.Context, n notify.Notification) {
	if e.Notify == nil {
		return
	}
	if n.TS == "" {
		n.TS = e.stamp()
	}
	e.Notify.Emit(context.WithoutCancel(ctx), n)
}

// CreateUserOptions are parameters for creating a user.
type CreateUserOptions struct {
	ActorID int64
	Name    string
	Email   string
	Roles   []string
}

// BootstrapAdmin creates the first ADMIN when the user table is empty.
func (e Engine) BootstrapAdmin(ctx context.Context, name, email string) (domain.User, bool, error) {
	n, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, false, persist("count users", err)
	}
	if n > 0 {
		return domain.User{}, false, nil
	}
	u, err := e.createUser(ctx, 0, CreateUserOptions{Name: name, Email: email, Roles: []string{string(domain.RoleAdmin)}})
	return u, err == nil, err
}

// CreateUser adds a user with roles. Only ADMIN may create users.
func (e Engine) CreateUser(ctx context.Context, opts CreateUserOptions) (domain.User, error) {
	return e.createUser(ctx, opts.ActorID, opts)
}

func (e Engine) createUser(ctx context.Context, actorID int64, opts CreateUserOptions) (domain.User, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.User{}, invalid("name", "name is required")
	}
	roles := make([]domain.Role, 0, len(opts.Roles))
	for _, r := range opts.Roles {
		role, err := domain.ParseRole(r)
		if err != nil {
			return domain.User{}, &InputError{Field: "roles", Err: err}
		}
		roles = append(roles, role)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, persist("begin", err)
	}
	defer tx.Rollback()

	if actorID != 0 {
		if _, err := e.Auth.Require(ctx, tx, actorID, domain.RoleAdmin); err != nil {
			return domain.User{}, err
		}
	}
	u := domain.User{Name: name, Email: strings.TrimSpace(opts.Email), CreatedAt: e.stamp()}
	id, err := e.Repo.InsertUserTx(ctx, tx, u)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.User{}, invalid("email", "email %s already registered", u.Email)
		}
		return domain.User{}, persist("insert user", err)
	}
	for _, role := range roles {
		if err := e.Repo.AssignRole(ctx, tx, id, role); err != nil {
			return domain.User{}, persist("assign role", err)
		}
	}
	if err := e.events().Append(ctx, tx, events.Entry{
		Type: "user.created", EntityKind: "user", EntityID: fmt.Sprint(id), ActorID: actorID,
		Payload: events.EventPayload{"name": u.Name, "roles": opts.Roles},
	}); err != nil {
		return domain.User{}, persist("append event", err)
	}
	created, err := e.Repo.GetUser(ctx, tx, id)
	if err != nil {
		return domain.User{}, persist("reload user", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, persist("commit", err)
	}
	return created, nil
}

// SetRole grants or revokes one role. Only ADMIN may change roles, and an
// admin cannot remove their own ADMIN role.
func (e Engine) SetRole(ctx context.Context, actorID, userID int64, role string, grant bool) (domain.User, error) {
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.User{}, &InputError{Field: "role", Err: err}
	}
	if !grant && r == domain.RoleAdmin && actorID == userID {
		return domain.User{}, invalid("role", "cannot revoke your own ADMIN role")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, persist("begin", err)
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}
	if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
		return domain.User{}, persist("get user", err)
	}
	evt := "role.granted"
	if grant {
		err = e.Repo.AssignRole(ctx, tx, userID, r)
	} else {
		evt = "role.revoked"
		err = e.Repo.RevokeRole(ctx, tx, userID, r)
	}
	if err != nil {
		return domain.User{}, persist("update role", err)
	}
	if err := e.events().Append(ctx, tx, events.Entry{
		Type: evt, EntityKind: "user", EntityID: fmt.Sprint(userID), ActorID: actorID,
		Payload: events.EventPayload{"role": string(r)},
	}); err != nil {
		return domain.User{}, persist("append event", err)
	}
	u, err := e.Repo.GetUser(ctx, tx, userID)
	if err != nil {
		return domain.User{}, persist("reload user", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, persist("commit", err)
	}
	return u, nil
}

// Me returns the acting user with roles.
func (e Engine) Me(ctx context.Context, actorID int64) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, auth.UnknownUserError{UserID: actorID}
	}
	return u, persist("get user", err)
}

// CreateAPIKey issues a key for userID. Users may issue their own keys;
// ADMIN may issue keys for anyone. The plaintext is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, userID int64, name string) (string, domain.APIKey, error) {
	if userID == 0 {
		userID = actorID
	}
	if userID != actorID {
		if _, err := e.Auth.Require(ctx, nil, actorID, domain.RoleAdmin); err != nil {
			return "", domain.APIKey{}, err
		}
	}
	if _, err := e.Repo.GetUser(ctx, nil, userID); err != nil {
		return "", domain.APIKey{}, persist("get user", err)
	}
	plain := "pf_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, persist("insert api key", err)
	}
	return plain, key, nil
}

// ListAPIKeys returns userID's keys (the actor's own when zero). Listing
// another user's keys requires ADMIN.
func (e Engine) ListAPIKeys(ctx context.Context, actorID, userID int64) ([]domain.APIKey, error) {
	if userID == 0 {
		userID = actorID
	}
	if userID != actorID {
		if _, err := e.Auth.Require(ctx, nil, actorID, domain.RoleAdmin); err != nil {
			return nil, err
		}
	}
	keys, err := e.Repo.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, persist("list api keys", err)
	}
	if keys == nil {
		keys = []domain.APIKey{}
	}
	return keys, nil
}

// RevokeAPIKey deletes a key owned by the actor; ADMIN may revoke any key.
// A key the actor may not see reads as not found.
func (e Engine) RevokeAPIKey(ctx context.Context, actorID int64, keyID string) error {
	roles, err := e.Auth.RolesOf(ctx, nil, actorID)
	if err != nil {
		return err
	}
	if !roles.Has(domain.RoleAdmin) {
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return persist("list api keys", err)
		}
		owned := false
		for _, k := range keys {
			owned = owned || k.ID == keyID
		}
		if !owned {
			return persist("revoke api key", repo.ErrNotFound)
		}
	}
	if err := e.Repo.DeleteAPIKey(ctx, keyID); err != nil {
		return persist("revoke api key", err)
	}
	e.log().Info("api key revoked", zap.String("key_id", keyID), zap.Int64("actor_id", actorID))
	return nil
}
