package ingestion

// ProgressSink receives the progress of one ingestion run.
// process.Sink is the production implementation.
type ProgressSink interface {
	// Progress reports that the run reached percent.
	Progress(percent int, message string)

	// Complete reports success.
	Complete(message string)

	// Fail reports the error that ended the run.
	Fail(err error)
}

type nopSink struct{}

func (nopSink) Progress(int, string) {}
func (nopSink) Complete(string)      {}
func (nopSink) Fail(error)           {}

// SinkFunc adapts a plain progress callback. Complete reports 100 and Fail is ignored.
type SinkFunc func(percent int, message string)

func (f SinkFunc) Progress(percent int, message string) { f(percent, message) }
func (f SinkFunc) Complete(message string)              { f(100, message) }
func (f SinkFunc) Fail(error)                           {}
