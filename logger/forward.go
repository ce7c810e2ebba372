package logger

import "fmt"

// Record is a pre-formatted log line destined for the controller event
// stream. Lines are forwarded as `stderr` events so the controller renders
// them alongside subprocess output.
type Record struct {
	Line []byte
}

// ForwardPrinter formats records as "<prefix>: <message>\n" and enqueues
// them on a bounded channel drained by the agent's log-forwarding task.
// When the queue is full the record is dropped rather than blocking the
// caller.
type ForwardPrinter struct {
	Prefix string
	Queue  chan<- Record
}

func NewForwardPrinter(prefix string, queue chan<- Record) *ForwardPrinter {
	return &ForwardPrinter{
		Prefix: prefix,
		Queue:  queue,
	}
}

func (p *ForwardPrinter) Print(level Level, msg string, fields Fields) {
	line := fmt.Sprintf("%s: %s", p.Prefix, msg)
	for _, field := range fields {
		line += fmt.Sprintf(" %s=%s", field.Key(), field.String())
	}
	line += "\n"

	select {
	case p.Queue <- Record{Line: []byte(line)}:
	default:
		// The forwarder is wedged or the controller is gone. Logging must
		// never block task execution.
	}
}

// MultiPrinter fans a record out to each of its printers in order.
type MultiPrinter []Printer

func (mp MultiPrinter) Print(level Level, msg string, fields Fields) {
	for _, p := range mp {
		p.Print(level, msg, fields)
	}
}
