package rpc

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("rpc: client closed")

// AcceptStat is the accept_stat of an accepted reply (RFC 5531 Section 9).
type AcceptStat uint32

const (
	Success      AcceptStat = 0
	ProgUnavail  AcceptStat = 1
	ProgMismatch AcceptStat = 2
	ProcUnavail  AcceptStat = 3
	GarbageArgs  AcceptStat = 4
	SystemErr    AcceptStat = 5
)

func (s AcceptStat) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case ProgUnavail:
		return "PROG_UNAVAIL"
	case ProgMismatch:
		return "PROG_MISMATCH"
	case ProcUnavail:
		return "PROC_UNAVAIL"
	case GarbageArgs:
		return "GARBAGE_ARGS"
	case SystemErr:
		return "SYSTEM_ERR"
	default:
		return fmt.Sprintf("accept_stat(%d)", uint32(s))
	}
}

// AcceptError reports an accepted reply whose status is not SUCCESS.
type AcceptError struct {
	Stat AcceptStat
	// Low and High carry the supported version range for PROG_MISMATCH.
	Low, High uint32
}

func (e *AcceptError) Error() string {
	if e.Stat == ProgMismatch {
		return fmt.Sprintf("rpc: %s (supported %d-%d)", e.Stat, e.Low, e.High)
	}
	return "rpc: " + e.Stat.String()
}

// Reject status of a denied reply.
const (
	RPCMismatch uint32 = 0
	AuthError   uint32 = 1
)

// RejectError reports a denied reply.
type RejectError struct {
	Stat uint32
	// AuthStat is set for AUTH_ERROR rejections.
	AuthStat uint32
	// Low and High carry the supported RPC version range for RPC_MISMATCH.
	Low, High uint32
}

func (e *RejectError) Error() string {
	if e.Stat == AuthError {
		return fmt.Sprintf("rpc: call rejected: auth error %d", e.AuthStat)
	}
	return fmt.Sprintf("rpc: call rejected: version mismatch (supported %d-%d)", e.Low, e.High)
}
