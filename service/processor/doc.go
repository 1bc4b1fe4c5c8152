// Package processor hosts the worker that runs measures end to end: runtime
// dependency collection, pre-execution hooks, the main task tree through the
// engine and post-execution hooks. Pause, resume and stop requests are
// routed either to the engine or to the hook currently executing.
package processor
