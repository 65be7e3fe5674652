package capture

// Delegate receives session outcomes. Every call arrives through the
// session's Executor, never from the delivery or writer goroutines.
type Delegate interface {
	CameraDenied()
	MicrophoneDenied()
	Failed(err error)
	Elapsed(seconds float64)
	Finished(a Artifact)
}

// Executor runs notifications on the owner's context, in submission order.
type Executor interface {
	Post(task func())
}

// NopDelegate ignores every notification. Embed it to implement a subset.
type NopDelegate struct{}

func (NopDelegate) CameraDenied()     {}
func (NopDelegate) MicrophoneDenied() {}
func (NopDelegate) Failed(error)      {}
func (NopDelegate) Elapsed(float64)   {}
func (NopDelegate) Finished(Artifact) {}
