package workflow

import (
	"errors"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

type State int

const (
	NeedsApproval State = iota
	Approving
	ReadyToWrap
	Wrapping
	ReadyToStake
	Staking
	Confirming
	Confirmed
	Failed
)

var stateNames = [...]string{
	NeedsApproval: "NeedsApproval",
	Approving:     "Approving",
	ReadyToWrap:   "ReadyToWrap",
	Wrapping:      "Wrapping",
	ReadyToStake:  "ReadyToStake",
	Staking:       "Staking",
	Confirming:    "Confirming",
	Confirmed:     "Confirmed",
	Failed:        "Failed",
}

// AllStates lists every state in declaration order.
var AllStates = []State{NeedsApproval, Approving, ReadyToWrap, Wrapping, ReadyToStake, Staking, Confirming, Confirmed, Failed}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the session can make no further progress.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed
}

type Event int

const (
	EventApprove Event = iota
	EventApproved
	EventApprovalFailed
	EventAllowanceSufficient
	EventWrap
	EventStake
	EventSubmitted
	EventRejected
	EventTxFailed
	EventReceiptSucceeded
	EventReceiptFailed
	EventAmountChanged
	EventPermitOn
	EventPermitOff
)

var eventNames = [...]string{
	EventApprove:             "Approve",
	EventApproved:            "Approved",
	EventApprovalFailed:      "ApprovalFailed",
	EventAllowanceSufficient: "AllowanceSufficient",
	EventWrap:                "Wrap",
	EventStake:               "Stake",
	EventSubmitted:           "Submitted",
	EventRejected:            "Rejected",
	EventTxFailed:            "TxFailed",
	EventReceiptSucceeded:    "ReceiptSucceeded",
	EventReceiptFailed:       "ReceiptFailed",
	EventAmountChanged:       "AmountChanged",
	EventPermitOn:            "PermitOn",
	EventPermitOff:           "PermitOff",
}

// AllEvents lists every event in declaration order.
var AllEvents = []Event{
	EventApprove, EventApproved, EventApprovalFailed, EventAllowanceSufficient,
	EventWrap, EventStake, EventSubmitted, EventRejected, EventTxFailed,
	EventReceiptSucceeded, EventReceiptFailed, EventAmountChanged, EventPermitOn, EventPermitOff,
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "Unknown"
	}
	return eventNames[e]
}

type transitionKey struct {
	from  State
	event Event
}

// Table maps (state, event) to the next state. Pairs without an entry are not allowed; async
// completions that find no entry for the current state are dropped.
type Table struct {
	next map[transitionKey]State
}

// NewTable builds the transition table for a session. With a wrapper the approval leads to
// the wrap step and the wrap confirms the session; without one it leads to the stake step
// and permit mode is available.
func NewTable(hasWrapper bool) Table {
	t := Table{next: make(map[transitionKey]State)}
	add := func(from State, ev Event, to State) { t.next[transitionKey{from, ev}] = to }

	approved := ReadyToStake
	if hasWrapper {
		approved = ReadyToWrap
	}

	add(NeedsApproval, EventApprove, Approving)
	add(NeedsApproval, EventAmountChanged, NeedsApproval)

	add(Approving, EventApproved, approved)
	add(Approving, EventAllowanceSufficient, approved)
	add(Approving, EventApprovalFailed, NeedsApproval)

	if hasWrapper {
		add(ReadyToWrap, EventWrap, Wrapping)
		add(ReadyToWrap, EventAmountChanged, NeedsApproval)

		add(Wrapping, EventSubmitted, Confirming)
		add(Wrapping, EventRejected, ReadyToWrap)
		add(Wrapping, EventTxFailed, Failed)
	} else {
		add(NeedsApproval, EventPermitOn, ReadyToStake)
		add(NeedsApproval, EventPermitOff, NeedsApproval)
		add(ReadyToStake, EventPermitOn, ReadyToStake)
		add(ReadyToStake, EventPermitOff, NeedsApproval)

		add(ReadyToStake, EventStake, Staking)
		add(ReadyToStake, EventAmountChanged, NeedsApproval)

		add(Staking, EventSubmitted, Confirming)
		add(Staking, EventRejected, ReadyToStake)
		add(Staking, EventTxFailed, Failed)
	}

	add(Confirming, EventReceiptSucceeded, Confirmed)
	add(Confirming, EventReceiptFailed, Failed)
	add(Confirming, EventTxFailed, Failed)

	return t
}

// Next returns the state reached from s on ev, if the pair is allowed.
func (t Table) Next(s State, ev Event) (State, bool) {
	to, ok := t.next[transitionKey{s, ev}]
	return to, ok
}

// RejectionCode is the EIP-1193 "user rejected request" error code.
const RejectionCode = 4001

func amountNonZero(a *uint256.Int) bool {
	return a != nil && !a.IsZero()
}

// isRejection reports whether err is a wallet-level decline.
func isRejection(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == RejectionCode
}
