package chain

import (
	"errors"

	"github.com/giveconomy/givstream/staking/pkg/workflow"
)

type rejectedError struct{}

func (rejectedError) Error() string  { return "user rejected the request" }
func (rejectedError) ErrorCode() int { return workflow.RejectionCode }

// ErrUserRejected is returned by signers when the user declines to sign. It carries the
// wallet rejection code through the rpc.Error interface.
var ErrUserRejected error = rejectedError{}

var (
	ErrClosed       = errors.New("chain client is closed")
	ErrBadSignature = errors.New("malformed signature")
)
