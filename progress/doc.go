// Package progress defines primitives for reporting and aggregating the
// progress of a running measure.  It abstracts away the delivery mechanism so
// that callers can consume progress updates in a uniform way regardless of
// whether they are rendered locally or forwarded to external observers.
package progress
