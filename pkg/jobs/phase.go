package jobs

// ExecutionPhase describes one stage of a distributed plan and the nodes it runs on.
type ExecutionPhase struct {
	ID    PhaseID
	Name  string
	Nodes []string
}

// NodeOperation pairs a phase running on this node with the phase that
// consumes its output.
type NodeOperation struct {
	Phase      ExecutionPhase
	Downstream ExecutionPhase

	// DownstreamInputID selects the input of the downstream phase the rows
	// are fed into, for phases consuming more than one upstream (e.g. joins).
	DownstreamInputID uint8
}

// WithDownstream builds a NodeOperation feeding phase into downstream.
func WithDownstream(phase, downstream ExecutionPhase, inputID uint8) NodeOperation {
	return NodeOperation{
		Phase:             phase,
		Downstream:        downstream,
		DownstreamInputID: inputID,
	}
}
