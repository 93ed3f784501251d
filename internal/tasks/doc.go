// Package tasks provides the SQLite-backed background task queue and
// its worker pool.
//
// Tasks are FIFO within priority class. Failed handlers are rescheduled
// with capped exponential backoff until the attempt budget is spent,
// after which the task is terminally failed and only an operator can
// requeue it. Enqueues may carry a dedupe key, making them idempotent;
// the supervisor and reconciler rely on this to guarantee exactly one
// finalize task per recording job.
package tasks
