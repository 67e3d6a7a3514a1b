package distribution

import (
	"github.com/cortexproject/resultdist/pkg/jobs"
)

// Row is one produced tuple. Rows are immutable once handed to a consumer.
type Row []interface{}

// Request is the unit of network transfer: one page of rows for one bucket,
// addressed to the downstream phase of a job.
type Request struct {
	JobID   jobs.JobID   `json:"job_id"`
	PhaseID jobs.PhaseID `json:"phase_id"`
	InputID uint8        `json:"input_id"`

	// BucketIdx is the index of the sending node among the producers of the
	// upstream phase, so the receiver can tell its upstreams apart.
	BucketIdx int `json:"bucket_idx"`

	Rows   []Row `json:"rows"`
	IsLast bool  `json:"is_last"`

	// Failure is set on abort notices; the receiver must drop whatever it
	// accumulated for this job and phase.
	Failure string `json:"failure,omitempty"`
	Killed  bool   `json:"killed,omitempty"`
}

// Key returns the phase the request is addressed to.
func (r *Request) Key() jobs.PhaseKey {
	return jobs.MakePhaseKey(r.JobID, r.PhaseID)
}

// IsAbort is true for abort notices.
func (r *Request) IsAbort() bool {
	return r.Failure != "" || r.Killed
}
