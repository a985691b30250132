package reminder

// ReconcileReport summarizes one reconciliation pass over the user table.
type ReconcileReport struct {
	RunID string

	// Skipped means the store was not ready; the pass did nothing and can be
	// retried later.
	Skipped bool
	Reason  string

	Users       int // users seen
	Scheduled   int // triggers registered
	InvalidPref int // users skipped for a bad reminder_time
}

// DispatchReport summarizes one evaluate-and-dispatch batch. A batch never
// fails as a whole: per-record problems are counted and the rest proceeds.
type DispatchReport struct {
	RunID string

	Skipped bool
	Reason  string

	Evaluated int
	Due       int
	Sent      int
	Failed    int
	Unknown   int // records with no last-watered date
	Invalid   int // records with unparseable dates
}

func (r *DispatchReport) add(o DispatchReport) {
	r.Evaluated += o.Evaluated
	r.Due += o.Due
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Unknown += o.Unknown
	r.Invalid += o.Invalid
}
