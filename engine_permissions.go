package goGate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goGate/permission"
)

// EffectivePermissions returns the union of the active permission rows of
// roles. The super role resolves to {"*": ["*"]}.
func (e *Engine) EffectivePermissions(roles []string) permission.Matrix {
	if e == nil || e.resolver == nil {
		return permission.Matrix{}
	}
	return e.resolver.EffectivePermissions(roles)
}

// HasPermission reports whether roles grant action on section.
func (e *Engine) HasPermission(roles []string, section, action string) bool {
	if e == nil || e.resolver == nil {
		return false
	}
	return e.resolver.HasPermission(roles, section, action)
}

// Authorize returns ErrInsufficientPermission unless id's roles grant action
// on section. Denials are logged and audited.
func (e *Engine) Authorize(ctx context.Context, id *Identity, section, action string) error {
	if e == nil || e.resolver == nil {
		return ErrEngineNotReady
	}
	if id == nil {
		return newAuthError(ErrNoCredential, nil)
	}
	if e.resolver.HasPermission(id.Roles, section, action) {
		return nil
	}

	e.metricInc(MetricPermissionDenied)
	e.emitAudit(ctx, auditEventPermissionDenied, false, id.SubjectID, "", ErrInsufficientPermission, func() map[string]string {
		return map[string]string{"section": section, "action": action}
	})
	e.logDenied(ctx, "authorize", id.SubjectID, "missing "+section+":"+action)
	return ErrInsufficientPermission
}

// UpdateRolePermissions replaces every permission row of roleID. Readers see
// either the old set or the new one, never a mix. Tokens already issued pick
// up the change on their next request because roles are resolved per request.
func (e *Engine) UpdateRolePermissions(ctx context.Context, roleID string, updates []permission.Update) error {
	if e == nil || e.resolver == nil {
		return ErrEngineNotReady
	}
	if err := e.resolver.UpdateRolePermissions(ctx, roleID, updates); err != nil {
		e.emitAudit(ctx, auditEventPermissionUpdate, false, "", "", err, func() map[string]string {
			return map[string]string{"role_id": roleID}
		})
		if errors.Is(err, permission.ErrRoleNotFound) || errors.Is(err, permission.ErrInvalidUpdate) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPermissionUpdate)
	e.emitAudit(ctx, auditEventPermissionUpdate, true, "", "", nil, func() map[string]string {
		return map[string]string{"role_id": roleID, "sections": fmt.Sprint(len(updates))}
	})
	e.logger.Info().Str("role_id", roleID).Int("sections", len(updates)).Msg("role permissions replaced")
	return nil
}

// RolePermissions returns every row stored for roleID, active or not.
func (e *Engine) RolePermissions(roleID string) []permission.Permission {
	if e == nil || e.resolver == nil {
		return nil
	}
	return e.resolver.RolePermissions(roleID)
}

// VisibleRoles returns the roles a viewer holding viewerRoles may see and
// manage.
func (e *Engine) VisibleRoles(viewerRoles []string) []permission.Role {
	if e == nil || e.resolver == nil {
		return nil
	}
	return e.resolver.VisibleRoles(viewerRoles)
}

// ReloadPermissions rereads the whole matrix from the permission store.
func (e *Engine) ReloadPermissions(ctx context.Context) error {
	if e == nil || e.resolver == nil {
		return ErrEngineNotReady
	}
	if err := e.resolver.Load(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
