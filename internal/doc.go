// Package internal contains helpers private to shopauth: one-time codes and
// temporary passwords.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: process configuration loaded with viper
//   - flows: flow orchestrators behind every Engine operation
//   - stores: short-lived Redis records (password reset codes)
//   - telemetry: OpenTelemetry tracer provider setup
//
// # What this package must NOT do
//
//   - Export types that appear in the public shopauth API.
package internal
