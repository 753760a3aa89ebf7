package roles

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wikichapters.org/internal/audit"
)

// Resolver answers "what may this user do" and applies role changes.
// Role reads always hit the authoritative store; nothing is cached across
// requests, so changes take effect on the next token mint.
type Resolver struct {
	store  Store
	audit  audit.Log
	logger *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(store Store, auditLog audit.Log, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, audit: auditLog, logger: logger}
}

// UserRoles returns the user's current assignments, read fresh.
func (r *Resolver) UserRoles(ctx context.Context, userID string) ([]Assignment, error) {
	return r.store.Assignments(ctx, userID)
}

// RoleClaims returns the user's assignments encoded for token claims.
func (r *Resolver) RoleClaims(ctx context.Context, userID string) ([]string, error) {
	assignments, err := r.store.Assignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	claims := make([]string, 0, len(assignments))
	for _, a := range assignments {
		claims = append(claims, a.Claim())
	}
	return claims, nil
}

// EnsureDefault grants the baseline member role without a permission
// check. It is reserved for account provisioning, where there is no acting
// user yet.
func (r *Resolver) EnsureDefault(ctx context.Context, userID string) error {
	if err := r.store.Assign(ctx, Assignment{UserID: userID, Role: RoleMember}); err != nil {
		return fmt.Errorf("roles: default assignment: %w", err)
	}
	return nil
}

// CanManageRoles reports whether the actor may change role assignments
// scoped to the given chapter.
func (r *Resolver) CanManageRoles(ctx context.Context, actorID, chapter string) (bool, error) {
	assignments, err := r.store.Assignments(ctx, actorID)
	if err != nil {
		return false, err
	}
	return AnyGrants(assignments, CapManageRoles, chapter), nil
}

// Assign grants a role to the target user. The acting user must hold super
// or chapter_admin within the same scope. The store clears the target's
// sessions atomically with the change, forcing a fresh token mint with the
// updated claims on the target's next request.
func (r *Resolver) Assign(ctx context.Context, actorID string, a Assignment) error {
	if err := r.authorize(ctx, actorID, a); err != nil {
		return err
	}
	if err := r.store.Assign(ctx, a); err != nil {
		return fmt.Errorf("roles: assign: %w", err)
	}
	r.logChange(ctx, actorID, "role.assign", a)
	return nil
}

// Remove revokes a role from the target user. Same permission check and
// session invalidation as Assign.
func (r *Resolver) Remove(ctx context.Context, actorID string, a Assignment) error {
	if err := r.authorize(ctx, actorID, a); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, a); err != nil {
		if err == ErrNotAssigned {
			return err
		}
		return fmt.Errorf("roles: remove: %w", err)
	}
	r.logChange(ctx, actorID, "role.remove", a)
	return nil
}

func (r *Resolver) authorize(ctx context.Context, actorID string, a Assignment) error {
	if !KnownRole(a.Role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, a.Role)
	}
	ok, err := r.CanManageRoles(ctx, actorID, a.Chapter)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	// Only super may grant or revoke super.
	if a.Role == RoleSuper {
		assignments, err := r.store.Assignments(ctx, actorID)
		if err != nil {
			return err
		}
		if !AnyGrants(assignments, CapManageRoles, "") {
			return ErrPermissionDenied
		}
		super := false
		for _, held := range assignments {
			if held.Role == RoleSuper {
				super = true
				break
			}
		}
		if !super {
			return ErrPermissionDenied
		}
	}
	return nil
}

// logChange appends an audit entry; audit failures are logged, not
// propagated, since the role change itself has already committed.
func (r *Resolver) logChange(ctx context.Context, actorID, action string, a Assignment) {
	entry := &audit.Entry{
		ActorID:    actorID,
		Action:     action,
		TargetType: "user",
		TargetID:   a.UserID,
		Fields:     map[string]any{"role": a.Role, "chapter": a.Chapter},
	}
	if r.audit != nil {
		if err := r.audit.Append(ctx, entry); err != nil {
			r.logger.Warn("audit append failed",
				zap.String("action", action), zap.Error(err))
		}
	}
	r.logger.Info("role assignment changed",
		zap.String("action", action),
		zap.String("actor", actorID),
		zap.String("target", a.UserID),
		zap.String("role", a.Role),
		zap.String("chapter", a.Chapter),
	)
}
