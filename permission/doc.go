// Package permission resolves roles to a matrix of section → allowed actions.
//
// # Resolution
//
// A subject's effective permissions are the union of the active rows of every
// role it holds. One configured super role bypasses the matrix and resolves to
// the wildcard. Every authorization decision goes through [Resolver].
//
// # Updates
//
// [Resolver.UpdateRolePermissions] replaces one role's rows in full. The new
// rows are persisted through the [Store] first and then published as a new
// immutable snapshot, so a concurrent reader sees the old matrix or the new
// one and nothing in between.
//
// # What this package must NOT do
//
//   - Import goGate, jwt or middleware.
//   - Hold per-request state.
package permission
