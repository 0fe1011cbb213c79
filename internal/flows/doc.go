// Package flows holds the request flows of the access-control engine as plain
// functions over explicit dependency structs.
//
// # Flows
//
//   - [RunAuthenticate]: extract, blacklist, verify, re-check the subject.
//   - [RunRefresh]: single-use refresh rotation bound to one device.
//   - [RunLogout] and [RunLogoutAll]: blacklist entries plus device deactivation.
//
// Each flow returns a classified result; the root package maps it onto its
// public errors, logs and metrics.
//
// # What this package must NOT do
//
//   - Import goGate.
//   - Log, count metrics or emit audit events itself.
package flows
