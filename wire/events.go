package wire

// Command op tags accepted on the command socket.
const (
	OpClean        = "clean"
	OpBuild        = "build"
	OpExec         = "exec"
	OpCode         = "code"
	OpInput        = "input"
	OpComplete     = "complete"
	OpInterrupt    = "interrupt"
	OpStatus       = "status"
	OpStartService = "start-service"
)

// Event kinds emitted on the event socket.
const (
	KindStdout        = "stdout"
	KindStderr        = "stderr"
	KindBuildFinished = "build-finished"
	KindCleanFinished = "clean-finished"
	KindFinished      = "finished"
	KindWaitingInput  = "waiting-input"
	KindStatus        = "status"
	KindCompletion    = "completion"
	KindServiceResult = "service-result"

	// Produced by REPL-style back-ends only; the core never emits these.
	KindMedia = "media"
	KindHTML  = "html"
)

// EventSink is the write side of the event socket as seen by producers
// inside the agent.
type EventSink interface {
	SendEvent(kind string, body []byte) error
}
