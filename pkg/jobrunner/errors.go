package jobrunner

import "errors"

var (
	// ErrMalformedGraph indicates a graph document that is not a JSON mapping.
	ErrMalformedGraph = errors.New("malformed job graph")
	// ErrTransport covers network-level submission failures.
	ErrTransport = errors.New("queue transport error")
	// ErrQueueRejected means the remote validator refused the graph. The
	// wrapped message carries the remote error body verbatim.
	ErrQueueRejected = errors.New("queue rejected submission")
	// ErrProtocol indicates an unparseable response from the queue.
	ErrProtocol = errors.New("queue protocol error")
	// ErrStreamTimeout means the overall completion deadline elapsed.
	ErrStreamTimeout = errors.New("completion stream timed out")
	// ErrServerDown means the queue stopped answering liveness probes, so
	// completion is unknowable.
	ErrServerDown = errors.New("queue server down")
	// ErrConnectionLost covers a stream that could not be opened or dropped
	// mid-listen.
	ErrConnectionLost = errors.New("completion stream connection lost")
	// ErrArtifactNotFound means no new matching file appeared in time.
	ErrArtifactNotFound = errors.New("no artifacts found")
)
