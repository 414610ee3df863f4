package harness

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	Op         string `json:"op"`
	Actor      string `json:"actor,omitempty"`
	IncidentID uint64 `json:"incident_id"`

	// Outcome is "ok" or the rejection code.
	Outcome string `json:"outcome"`

	// Set on committed transitions.
	BundleRoot   string `json:"bundle_root,omitempty"`
	Head         string `json:"head,omitempty"`
	Count        uint32 `json:"count,omitempty"`
	Approval     string `json:"approval,omitempty"`
	Notification string `json:"notification,omitempty"`

	// Set on verify steps.
	ChainValid *bool `json:"chain_valid,omitempty"`
	Links      int   `json:"links,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
