package process

import "github.com/poiesic/docrag/core"

// Sink reports the progress of a single process to its Tracker.
type Sink struct {
	tracker *Tracker
	id      string
}

// Sink returns a progress sink bound to process id.
func (t *Tracker) Sink(id string) *Sink {
	return &Sink{tracker: t, id: id}
}

// ProcessID returns the id the sink writes to.
func (s *Sink) ProcessID() string {
	return s.id
}

// Progress marks the process as processing at percent.
func (s *Sink) Progress(percent int, message string) {
	s.tracker.Update(s.id, core.ProcessStatusProcessing, percent, message, "")
}

// Complete marks the process completed at 100%.
func (s *Sink) Complete(message string) {
	s.tracker.Update(s.id, core.ProcessStatusCompleted, 100, message, "")
}

// Fail marks the process failed. The percent reached so far is kept.
func (s *Sink) Fail(err error) {
	msg := "Processing failed"
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		msg = "Processing failed: " + errMsg
	}
	percent := 0
	if rec, ok := s.tracker.Get(s.id); ok {
		percent = rec.ProgressPercent
	}
	s.tracker.Update(s.id, core.ProcessStatusFailed, percent, msg, errMsg)
}
