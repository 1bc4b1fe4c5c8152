// Package idgen wraps the UUID generator so tests can stub it. It lives
// under internal because identifiers are opaque strings to callers.
package idgen
