package workflow

import (
	"fmt"
	"strings"
)

// ValidationError marks a malformed intent or graph, rejected before
// any node runs
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// SynthesisError marks a failure to build a workflow graph. Always
// unrecoverable.
type SynthesisError struct {
	Msg string
	Err error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// NodeError wraps a node execution failure with its recoverability tag
type NodeError struct {
	NodeID      string
	Recoverable bool
	Err         error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// transientPatterns are the known transient failure categories. A node
// error matching one of these is tagged recoverable and is eligible
// for fallback routing.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"rate limit",
	"temporarily unavailable",
	"unavailable",
	"network",
	"connection refused",
	"connection reset",
}

// IsTransient reports whether an error matches a known transient category
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
