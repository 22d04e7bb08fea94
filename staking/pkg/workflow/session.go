// Package workflow drives a staking action through approval, optional wrapping and staking
// against a wallet-backed chain.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/giveconomy/givstream/utils/pkg/errtrack"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
)

const (
	sectionApprove = "onApprove"
	sectionWrap    = "onWrap"
	sectionStake   = "onStake"

	defaultPermitTTL = time.Hour
)

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Chain    Chain
	Reporter errtrack.Reporter

	PoolToken      common.Address
	RewardContract common.Address
	// Wrapper is the zero address when the pool has no wrapper contract.
	Wrapper   common.Address
	MaxAmount *uint256.Int
	PermitTTL time.Duration

	// OnTransition is called with the session lock held and must not call back into the
	// session.
	OnTransition func(from, to State)
	// OnRefresh is called for every block once the approval step is over.
	OnRefresh func(blockNumber uint64)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain is required")
	}
	if cfg.PoolToken == (common.Address{}) {
		return errors.New("pool token is required")
	}
	if cfg.RewardContract == (common.Address{}) {
		return errors.New("reward contract is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errtrack.NopReporter{}
	}
	if cfg.PermitTTL <= 0 {
		cfg.PermitTTL = defaultPermitTTL
	}
	return nil
}

func (cfg *Config) hasWrapper() bool {
	return cfg.Wrapper != (common.Address{})
}

// spender is the contract that pulls the pool token: the wrapper if present, else the
// reward contract.
func (cfg *Config) spender() common.Address {
	if cfg.hasWrapper() {
		return cfg.Wrapper
	}
	return cfg.RewardContract
}

// Session is one pass through the staking workflow for one owner. All state is guarded by
// mu; at most one transaction is in flight at a time.
type Session struct {
	id    uuid.UUID
	log   *slog.Logger
	cfg   Config
	table Table
	owner common.Address

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	amount   *uint256.Int
	txHash   common.Hash
	permit   bool
	inFlight bool
	reading  bool
	closed   bool
	lastErr  error
	subs     subscriptions
}

// New starts a session for the wallet's current account.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	owner, err := cfg.Chain.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet account: %w", err)
	}

	id := uuid.New()
	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		log:    cfg.Logger.With("session", id.String()),
		cfg:    cfg,
		table:  NewTable(cfg.hasWrapper()),
		owner:  owner,
		ctx:    sessionCtx,
		cancel: cancel,
		state:  NeedsApproval,
		amount: new(uint256.Int),
	}
	s.log.Debug("workflow: session started", "owner", owner.Hex(), "wrapper", cfg.hasWrapper())
	return s, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Owner() common.Address { return s.owner }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Amount() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amount.Clone()
}

// TxHash is the hash of the most recent submission.
func (s *Session) TxHash() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txHash
}

func (s *Session) Permit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permit
}

// Err is the error behind the most recent failed step, including rejections.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// apply moves the session along the table. Must be called with mu held. It returns false and
// leaves the state untouched when the table has no entry for the current state.
func (s *Session) apply(ev Event) bool {
	if s.closed {
		return false
	}
	to, ok := s.table.Next(s.state, ev)
	if !ok {
		s.log.Debug("workflow: dropped event", "state", s.state, "event", ev)
		return false
	}
	from := s.state
	if from == to {
		return true
	}
	s.state = to
	StakeTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	s.log.Debug("workflow: transition", "from", from, "event", ev, "to", to)

	switch {
	case to == Approving && from != Approving:
		s.subs.replace(func() func() { return s.cfg.Chain.OnBlock(s.onAllowanceBlock) })
	case from == Approving && to != Approving:
		s.subs.replace(func() func() { return s.cfg.Chain.OnBlock(s.onRefreshBlock) })
	}

	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
	return true
}

// begin checks that a step may start and applies its trigger event. Must be called with mu
// held.
func (s *Session) begin(ev Event) error {
	if s.closed {
		return ErrClosed
	}
	if s.inFlight {
		return ErrBusy
	}
	if (ev == EventWrap || ev == EventStake) && !amountNonZero(s.amount) {
		return ErrZeroAmount
	}
	if _, ok := s.table.Next(s.state, ev); !ok {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, s.state)
	}
	s.apply(ev)
	s.inFlight = true
	s.lastErr = nil
	return nil
}

// stepContext is ctx cancelled also when the session closes.
func (s *Session) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) checkAccount(ctx context.Context) error {
	current, err := s.cfg.Chain.Account(ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet account: %w", err)
	}
	if current != s.owner {
		return fmt.Errorf("%w: started as %s, now %s", ErrAccountChanged, s.owner.Hex(), current.Hex())
	}
	return nil
}

func (s *Session) report(ctx context.Context, section string, err error) {
	s.cfg.Reporter.Report(ctx, err, errtrack.Tags{
		"section": section,
		"session": s.id.String(),
	})
}

// Approve grants the spender an allowance for the current amount. A zero amount is a no-op.
// An existing allowance that already covers the amount skips the submission; a non-zero
// allowance that does not is first reset to zero.
func (s *Session) Approve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == NeedsApproval && !amountNonZero(s.amount) {
		s.mu.Unlock()
		return nil
	}
	if err := s.begin(EventApprove); err != nil {
		s.mu.Unlock()
		return err
	}
	amount := s.amount.Clone()
	s.mu.Unlock()

	ctx, cancel := s.stepContext(ctx)
	defer cancel()

	err := s.approve(ctx, amount)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if err != nil {
		s.lastErr = err
		switch {
		case s.closed:
			s.log.Info("workflow: approval stopped by close", "error", err)
		case isRejection(err):
			StakeSubmissionsTotal.WithLabelValues(sectionApprove, "rejected").Inc()
			s.log.Info("workflow: approval rejected by user")
		default:
			StakeSubmissionsTotal.WithLabelValues(sectionApprove, "error").Inc()
			s.log.Error("workflow: approval failed", "error", err)
			s.report(ctx, sectionApprove, err)
		}
		s.apply(EventApprovalFailed)
		return nil
	}
	s.apply(EventApproved)
	return nil
}

func (s *Session) approve(ctx context.Context, amount *uint256.Int) error {
	token, spender := s.cfg.PoolToken, s.cfg.spender()

	allowance, err := s.cfg.Chain.ReadAllowance(ctx, token, s.owner, spender)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		StakeSubmissionsTotal.WithLabelValues(sectionApprove, "skipped").Inc()
		s.log.Debug("workflow: allowance already sufficient", "allowance", allowance.Dec())
		return nil
	}

	if !allowance.IsZero() {
		s.log.Debug("workflow: resetting allowance to zero", "allowance", allowance.Dec())
		if err := s.submitApproval(ctx, token, spender, new(uint256.Int)); err != nil {
			return fmt.Errorf("failed to reset allowance: %w", err)
		}
	}
	return s.submitApproval(ctx, token, spender, amount)
}

func (s *Session) submitApproval(ctx context.Context, token, spender common.Address, amount *uint256.Int) error {
	if err := s.checkAccount(ctx); err != nil {
		return err
	}
	hash, err := s.cfg.Chain.Submit(ctx, TxRequest{
		Kind:    TxApprove,
		From:    s.owner,
		To:      token,
		Token:   token,
		Spender: spender,
		Amount:  amount,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.txHash = hash
	s.mu.Unlock()

	receipt, err := s.cfg.Chain.AwaitReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to await approval receipt: %w", err)
	}
	if !receipt.Success {
		return fmt.Errorf("approval %s: %w", hash.Hex(), ErrReverted)
	}
	StakeSubmissionsTotal.WithLabelValues(sectionApprove, "confirmed").Inc()
	return nil
}

// onAllowanceBlock re-checks the allowance on each block while approving. Reads never
// overlap; a block that arrives during a read is skipped.
func (s *Session) onAllowanceBlock(blockNumber uint64) {
	s.mu.Lock()
	if s.closed || s.state != Approving || s.reading {
		s.mu.Unlock()
		return
	}
	s.reading = true
	amount := s.amount.Clone()
	s.mu.Unlock()

	allowance, err := s.cfg.Chain.ReadAllowance(s.ctx, s.cfg.PoolToken, s.owner, s.cfg.spender())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = false
	if err != nil {
		s.log.Debug("workflow: failed to read allowance on block", "block", blockNumber, "error", err)
		return
	}
	if s.state == Approving && allowance.Cmp(amount) >= 0 {
		s.log.Info("workflow: allowance covers amount", "block", blockNumber, "allowance", allowance.Dec())
		s.apply(EventAllowanceSufficient)
	}
}

func (s *Session) onRefreshBlock(blockNumber uint64) {
	if s.cfg.OnRefresh != nil {
		s.cfg.OnRefresh(blockNumber)
	}
}

// Wrap deposits the amount into the wrapper contract. The receipt confirms the session. A
// zero amount returns ErrZeroAmount without leaving ReadyToWrap.
func (s *Session) Wrap(ctx context.Context) error {
	s.mu.Lock()
	if err := s.begin(EventWrap); err != nil {
		s.mu.Unlock()
		return err
	}
	req := TxRequest{
		Kind:   TxWrap,
		From:   s.owner,
		To:     s.cfg.Wrapper,
		Token:  s.cfg.PoolToken,
		Amount: s.amount.Clone(),
	}
	s.mu.Unlock()

	s.transact(ctx, sectionWrap, req)
	return nil
}

// Stake stakes the amount in the reward contract, through a signed permit when permit mode
// is on. A zero amount returns ErrZeroAmount without leaving ReadyToStake.
func (s *Session) Stake(ctx context.Context) error {
	s.mu.Lock()
	if err := s.begin(EventStake); err != nil {
		s.mu.Unlock()
		return err
	}
	req := TxRequest{
		Kind:   TxStake,
		From:   s.owner,
		To:     s.cfg.RewardContract,
		Token:  s.cfg.PoolToken,
		Amount: s.amount.Clone(),
	}
	if s.permit {
		req.Kind = TxStakeWithPermit
		req.Spender = s.cfg.RewardContract
		req.Deadline = s.cfg.Clock.Now().Add(s.cfg.PermitTTL)
	}
	s.mu.Unlock()

	s.transact(ctx, sectionStake, req)
	return nil
}

// transact submits req and follows it to its receipt. Rejection returns to the step's ready
// state; any other error fails the session.
func (s *Session) transact(ctx context.Context, section string, req TxRequest) {
	ctx, cancel := s.stepContext(ctx)
	defer cancel()

	fail := func(ev Event, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.inFlight = false
		s.lastErr = err
		switch {
		case s.closed:
			s.log.Info("workflow: transaction stopped by close", "kind", req.Kind, "error", err)
		case ev == EventRejected:
			StakeSubmissionsTotal.WithLabelValues(section, "rejected").Inc()
			s.log.Info("workflow: transaction rejected by user", "kind", req.Kind)
		default:
			StakeSubmissionsTotal.WithLabelValues(section, "error").Inc()
			s.log.Error("workflow: transaction failed", "kind", req.Kind, "error", err)
			s.report(ctx, section, err)
		}
		s.apply(ev)
	}

	if err := s.checkAccount(ctx); err != nil {
		fail(EventTxFailed, err)
		return
	}

	hash, err := s.cfg.Chain.Submit(ctx, req)
	if err != nil {
		if isRejection(err) {
			fail(EventRejected, err)
		} else {
			fail(EventTxFailed, fmt.Errorf("failed to submit %s: %w", req.Kind, err))
		}
		return
	}

	s.mu.Lock()
	s.txHash = hash
	s.apply(EventSubmitted)
	s.mu.Unlock()
	s.log.Info("workflow: transaction submitted", "kind", req.Kind, "tx", hash.Hex())

	receipt, err := s.cfg.Chain.AwaitReceipt(ctx, hash)
	if err != nil {
		fail(EventTxFailed, fmt.Errorf("failed to await %s receipt: %w", req.Kind, err))
		return
	}
	if !receipt.Success {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.inFlight = false
		s.lastErr = fmt.Errorf("%s %s: %w", req.Kind, hash.Hex(), ErrReverted)
		StakeSubmissionsTotal.WithLabelValues(section, "reverted").Inc()
		s.log.Error("workflow: transaction reverted", "kind", req.Kind, "tx", hash.Hex())
		s.report(ctx, section, s.lastErr)
		s.apply(EventReceiptFailed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	StakeSubmissionsTotal.WithLabelValues(section, "confirmed").Inc()
	s.log.Info("workflow: transaction confirmed", "kind", req.Kind, "tx", hash.Hex(), "block", receipt.BlockNumber)
	s.apply(EventReceiptSucceeded)
}

// SetAmount changes the amount to stake. Past the approval step it returns the session to
// NeedsApproval, except in permit mode where no allowance is involved.
func (s *Session) SetAmount(amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch s.state {
	case NeedsApproval, ReadyToWrap, ReadyToStake:
	default:
		return fmt.Errorf("%w: %s", ErrAmountLocked, s.state)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	if s.cfg.MaxAmount != nil && amount.Gt(s.cfg.MaxAmount) {
		return fmt.Errorf("%w: %s > %s", ErrAmountExceedsMax, amount.Dec(), s.cfg.MaxAmount.Dec())
	}

	s.amount = amount.Clone()
	if s.permit && s.state == ReadyToStake {
		return nil
	}
	s.apply(EventAmountChanged)
	return nil
}

// TogglePermit switches between approve-then-stake and a single permit-authorised stake.
func (s *Session) TogglePermit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cfg.hasWrapper() {
		return ErrPermitUnavailable
	}
	ev := EventPermitOn
	if s.permit {
		ev = EventPermitOff
	}
	if !s.apply(ev) {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, s.state)
	}
	s.permit = !s.permit
	return nil
}

// Cancel closes the session from a state where nothing is pending.
func (s *Session) Cancel() error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.inFlight:
		s.mu.Unlock()
		return ErrCannotCancel
	}
	switch s.state {
	case NeedsApproval, ReadyToWrap, ReadyToStake:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCannotCancel, state)
	}
	s.mu.Unlock()

	s.log.Info("workflow: session cancelled")
	return s.Close()
}

// Close releases every subscription and stops further progress. Transactions already sent
// are not affected. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.subs.releaseCurrent()
	s.cancel()
	s.log.Debug("workflow: session closed", "state", s.state)
	return nil
}
