package jobs

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid"
)

// JobID identifies one query execution across every node taking part in it.
type JobID string

// NewJobID returns a new, lexically sortable job identifier.
func NewJobID() JobID {
	return JobID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

func (j JobID) String() string {
	return string(j)
}

// PhaseID identifies an execution phase within a job.
type PhaseID int32

// PhaseKey uniquely identifies an execution phase of a job.
// All result pages and abort notices are addressed by it.
type PhaseKey struct {
	// jobID identifies the distributed query this phase belongs to
	jobID JobID
	// phaseID identifies this specific phase within the job
	phaseID PhaseID
}

// MakePhaseKey creates a new PhaseKey with the given jobID and phaseID.
func MakePhaseKey(jobID JobID, phaseID PhaseID) PhaseKey {
	return PhaseKey{
		jobID:   jobID,
		phaseID: phaseID,
	}
}

// JobID returns the job this key belongs to.
func (k PhaseKey) JobID() JobID {
	return k.jobID
}

// PhaseID returns the phase within the job.
func (k PhaseKey) PhaseID() PhaseID {
	return k.phaseID
}

func (k PhaseKey) String() string {
	return fmt.Sprintf("%s/%d", k.jobID, k.phaseID)
}
