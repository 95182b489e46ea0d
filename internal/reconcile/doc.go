// Package reconcile drives the timer engine over the task store.
//
// One pass (Reconciler.Run) fetches every active task, computes each next
// state with timer.Engine.Tick in isolation, and writes back only the tasks
// that changed, guarded by their version. Status changes that were actually
// persisted are recorded and published on the event bus.
//
// Service schedules passes on a fixed "@every" cron entry. A trigger that
// fires while the previous pass is still running is skipped, so passes never
// overlap. Shutdown waits for the pass in flight; it never cuts a batch.
package reconcile
