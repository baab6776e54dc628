package resolve

// Notifier receives human-facing progress during resolution. It is a
// side channel only: suppressing every call must not change the
// resolution result.
type Notifier interface {
	// Message reports a progress line, indented by the given number of
	// spaces.
	Message(msg string, indent int)

	// Warning reports a non-fatal oddity, such as a constraint that
	// cannot be checked against a VCS resolution.
	Warning(msg string)

	// Error reports the detail of a failure before the typed error is
	// returned.
	Error(msg string)
}

// NullNotifier discards all progress.
type NullNotifier struct{}

func (NullNotifier) Message(msg string, indent int) {}
func (NullNotifier) Warning(msg string)             {}
func (NullNotifier) Error(msg string)               {}
