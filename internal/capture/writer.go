package capture

// ContainerWriter muxes timestamped frames into the output file. The session
// calls it only from the writer-coordination queue.
type ContainerWriter interface {
	Write(kind MediaKind, f Frame)
	// Pause removes the following gap from the output timeline.
	Pause()
	// Stop finalizes the file. Completion is reported through WriterEvents.
	Stop()
}

// WriterEvents receives the writer's asynchronous notifications. Events may
// arrive on any goroutine.
type WriterEvents interface {
	Elapsed(seconds float64)
	Finished()
	Failed(message string)
}

// WriterFactory builds the writer for one session output.
type WriterFactory func(path string, container ContainerType, events WriterEvents) (ContainerWriter, error)

// Discarder is implemented by writers that hold resources before the first
// frame. The session calls Discard when it releases a writer it never
// finalized; nothing is written to the output path.
type Discarder interface {
	Discard()
}
