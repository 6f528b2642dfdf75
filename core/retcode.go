package core

import "fmt"

// RetcodeKind is the normalized broker return-code category
type RetcodeKind string

const (
	RetcodeOK        RetcodeKind = "OK"
	RetcodeTransient RetcodeKind = "TRANSIENT"
	RetcodeRejected  RetcodeKind = "REJECTED"
	RetcodeTimeout   RetcodeKind = "TIMEOUT"
)

// Retcode is a broker acknowledgement normalized at the gateway boundary.
// Raw preserves the broker's native code for the event log.
type Retcode struct {
	Kind   RetcodeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Raw    int         `json:"raw,omitempty"`
}

// RetOK is the success acknowledgement
func RetOK() Retcode {
	return Retcode{Kind: RetcodeOK}
}

// RetTransient tags a retryable failure
func RetTransient(reason string) Retcode {
	return Retcode{Kind: RetcodeTransient, Reason: reason}
}

// RetRejected tags a hard rejection; never retried
func RetRejected(reason string) Retcode {
	return Retcode{Kind: RetcodeRejected, Reason: reason}
}

// RetTimeout tags a deadline expiry
func RetTimeout() Retcode {
	return Retcode{Kind: RetcodeTimeout}
}

// OK reports success
func (r Retcode) OK() bool {
	return r.Kind == RetcodeOK
}

// Retryable reports whether the gateway may retry the request
func (r Retcode) Retryable() bool {
	return r.Kind == RetcodeTransient || r.Kind == RetcodeTimeout
}

func (r Retcode) String() string {
	if r.Reason == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Reason)
}
