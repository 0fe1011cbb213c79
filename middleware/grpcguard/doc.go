// Package grpcguard runs the goGate request pipeline in front of gRPC unary
// handlers: authentication from the "authorization" metadata and per-method
// permission checks.
package grpcguard
