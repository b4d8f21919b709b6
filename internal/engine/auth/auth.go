package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"printflow/internal/domain"
	"printflow/internal/repo"
	"printflow/internal/workflow"
)

// ForbiddenError indicates the acting user lacks every one of the listed roles.
type ForbiddenError struct {
	Roles []domain.Role
}

func (e ForbiddenError) Error() string {
	names := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		names[i] = string(r)
	}
	return fmt.Sprintf("one of roles %s required", strings.Join(names, ","))
}

// UnknownUserError is returned when the acting identity has no user row.
type UnknownUserError struct {
	UserID int64
}

func (e UnknownUserError) Error() string {
	return fmt.Sprintf("unknown user %d", e.UserID)
}

// Service is the role authority backed by the user_roles table.
type Service struct {
	Repo repo.Repo
}

// RolesOf returns the role set of userID. Pass the open transaction, if any.
func (s Service) RolesOf(ctx context.Context, tx *sql.Tx, userID int64) (domain.RoleSet, error) {
	if userID <= 0 {
		return nil, UnknownUserError{UserID: userID}
	}
	if _, err := s.Repo.GetUser(ctx, tx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, UnknownUserError{UserID: userID}
		}
		return nil, err
	}
	return s.Repo.UserRoles(ctx, tx, userID)
}

// Actor resolves userID into the workflow actor.
func (s Service) Actor(ctx context.Context, tx *sql.Tx, userID int64) (workflow.Actor, error) {
	roles, err := s.RolesOf(ctx, tx, userID)
	if err != nil {
		return workflow.Actor{}, err
	}
	return workflow.Actor{UserID: userID, Roles: roles}, nil
}

// Require fails with ForbiddenError unless userID holds one of roles.
func (s Service) Require(ctx context.Context, tx *sql.Tx, userID int64, roles ...domain.Role) (domain.RoleSet, error) {
	set, err := s.RolesOf(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !set.Any(roles...) {
		return nil, ForbiddenError{Roles: roles}
	}
	return set, nil
}
