// Package logx wraps zerolog behind a small Logger/Field facade.
//
// Components receive a Logger derived from the shared Service via With(),
// so runtime config changes (level, sinks) apply everywhere at once.
package logx
