// Package signalwatcher reports shutdown-relevant signals to a callback.
//
// It is intended for internal use by the kernel agent only.
package signalwatcher

type Signal string

func (s Signal) String() string {
	return string(s)
}

const (
	TERM = Signal("TERM")
	INT  = Signal("INT")
)
