// Package reminder is the scheduling core of greenthumbd.
//
// It holds three pieces:
//   - Registry: one recurring daily trigger per user, driven by a cron engine
//   - Dispatcher: one composed send per due record, no retries
//   - Service: reconciles triggers from stored preferences and runs the
//     evaluate-and-dispatch batches they fire
//
// The service degrades rather than fails: a store that is not ready yields a
// skipped, retriable report, and every per-user or per-record problem is
// contained at that item and counted.
package reminder
