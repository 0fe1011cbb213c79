// Package blacklist records revoked tokens and revoked subjects in Redis.
//
// Entries carry a TTL equal to the remaining lifetime of what they revoke, so
// the keyspace never needs a sweep. Lookups report store failures separately
// from "not revoked"; callers decide the failure policy.
package blacklist
