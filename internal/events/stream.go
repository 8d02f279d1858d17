package events

// Stream is a live, ordered feed of cluster events opened at a ResumeToken.
//
// ResultChan is closed when the stream ends. After it closes, Err reports
// why: nil when the stream was stopped by the consumer, otherwise the error
// that terminated it (for example an expired resume token).
type Stream interface {
	ResultChan() <-chan ClusterEvent
	Err() error
	Stop()
}
