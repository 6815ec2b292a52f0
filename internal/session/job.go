package session

// jobContext is a loaded G-code job: the line vector plus progress counters.
// Mutated only by Sender and Workflow, per the data model.
type jobContext struct {
	name         string
	lines        []string
	linesTotal   int
	linesSent    int
	linesReceived int
	hold         bool
	holdReason   string
}

func newJobContext(name string, lines []string) *jobContext {
	return &jobContext{
		name:       name,
		lines:      lines,
		linesTotal: len(lines),
	}
}

func (j *jobContext) done() bool {
	return j.linesSent >= j.linesTotal
}

// JobStatus is the snapshot exposed over sender:status.
type JobStatus struct {
	Name          string
	LinesTotal    int
	LinesSent     int
	LinesReceived int
	Hold          bool
	HoldReason    string
}
