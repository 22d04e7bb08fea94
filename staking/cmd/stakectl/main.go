package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/giveconomy/givstream/staking/pkg/chain"
	"github.com/giveconomy/givstream/staking/pkg/workflow"
	"github.com/giveconomy/givstream/utils/pkg/errtrack"
	"github.com/giveconomy/givstream/utils/pkg/logger"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
)

var (
	// Set by LDFLAGS
	version = "dev"
)

const (
	defaultConfigPath = "networks.yaml"
	tokenDecimals     = 18
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file to load before reading environment variables")
	configFlag := flag.String("config", defaultConfigPath, "networks config file (or set GIVSTREAM_CONFIG env var)")
	networkFlag := flag.String("network", "", "network name or chain ID (default: the config's default network)")
	poolFlag := flag.String("pool", "", "staking pool name")
	amountFlag := flag.String("amount", "", "amount to stake in token units, or \"max\" for the whole balance")
	permitFlag := flag.Bool("permit", false, "stake with a signed permit instead of an approval transaction")
	keystoreFlag := flag.String("keystore", "", "keystore directory holding the staking account")
	addressFlag := flag.String("address", "", "account address in the keystore (default: the only account)")
	rpcURLFlag := flag.String("rpc-url", "", "override the network's RPC URL")

	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnvironmentFlag := flag.String("sentry-environment", "production", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load(*envFileFlag)

	log := logger.New(*verboseFlag)

	if envConfig := os.Getenv("GIVSTREAM_CONFIG"); envConfig != "" {
		*configFlag = envConfig
	}
	if envSentryDSN := os.Getenv("SENTRY_DSN"); envSentryDSN != "" {
		*sentryDSNFlag = envSentryDSN
	}
	if envSentryEnvironment := os.Getenv("SENTRY_ENVIRONMENT"); envSentryEnvironment != "" {
		*sentryEnvironmentFlag = envSentryEnvironment
	}

	if *poolFlag == "" {
		return errors.New("--pool is required")
	}
	if *amountFlag == "" {
		return errors.New("--amount is required")
	}
	if *keystoreFlag == "" {
		return errors.New("--keystore is required")
	}

	networks, err := netconfig.Load(*configFlag)
	if err != nil {
		return err
	}
	network, err := selectNetwork(networks, *networkFlag)
	if err != nil {
		return err
	}
	pool, ok := network.Pool(*poolFlag)
	if !ok {
		return fmt.Errorf("pool %q is not configured on %s", *poolFlag, network.Name)
	}
	rpcURL := network.RPCURL
	if *rpcURLFlag != "" {
		rpcURL = *rpcURLFlag
	}
	if rpcURL == "" {
		return fmt.Errorf("network %s has no rpc_url", network.Name)
	}

	flushSentry, err := errtrack.Init(errtrack.Config{
		DSN:         *sentryDSNFlag,
		Environment: *sentryEnvironmentFlag,
		Release:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	defer flushSentry()
	reporter := errtrack.NewSentryReporter(sentry.CurrentHub(), log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keystoreSigner, err := chain.NewKeystoreSigner(*keystoreFlag, *addressFlag, os.Getenv("KEYSTORE_PASSWORD"))
	if err != nil {
		return err
	}
	signer := chain.NewPromptSigner(keystoreSigner, os.Stdin, os.Stdout)

	client, backend, err := chain.Dial(ctx, rpcURL, chain.Config{
		Logger: log,
		Signer: signer,
	})
	if err != nil {
		return err
	}
	defer backend.Close()
	defer client.Close()

	poolToken := common.HexToAddress(pool.PoolToken)
	balance, err := client.BalanceOf(ctx, poolToken, signer.Address())
	if err != nil {
		return fmt.Errorf("failed to read pool token balance: %w", err)
	}
	amount, err := parseAmount(*amountFlag, balance)
	if err != nil {
		return err
	}

	var wrapperAddr common.Address
	if pool.Wrapper != "" {
		wrapperAddr = common.HexToAddress(pool.Wrapper)
	}
	session, err := workflow.New(ctx, workflow.Config{
		Logger:         log,
		Chain:          client,
		Reporter:       reporter,
		PoolToken:      poolToken,
		RewardContract: common.HexToAddress(pool.RewardContract),
		Wrapper:        wrapperAddr,
		MaxAmount:      balance,
		OnTransition: func(from, to workflow.State) {
			fmt.Fprintf(os.Stdout, "%s -> %s\n", from, to)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	log.Info("stakectl: staking",
		"network", network.Name,
		"pool", pool.Name,
		"account", session.Owner().Hex(),
		"amount", formatAmount(amount),
		"balance", formatAmount(balance),
		"permit", *permitFlag)

	if err := session.SetAmount(amount); err != nil {
		return err
	}
	if *permitFlag {
		if err := session.TogglePermit(); err != nil {
			return err
		}
	}

	if err := drive(ctx, log, session); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "confirmed: %s\n", session.TxHash().Hex())
	return nil
}

// drive runs the session's next step until it confirms, fails, or a step is declined.
func drive(ctx context.Context, log *slog.Logger, s *workflow.Session) error {
	for {
		before := s.State()
		var err error
		switch before {
		case workflow.NeedsApproval:
			err = s.Approve(ctx)
		case workflow.ReadyToWrap:
			err = s.Wrap(ctx)
		case workflow.ReadyToStake:
			err = s.Stake(ctx)
		case workflow.Confirmed:
			return nil
		case workflow.Failed:
			return fmt.Errorf("staking failed: %w", s.Err())
		default:
			return fmt.Errorf("unexpected state %s", before)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.State() == before {
			if stepErr := s.Err(); stepErr != nil {
				return fmt.Errorf("%s did not complete: %w", before, stepErr)
			}
			log.Debug("stakectl: step made no progress", "state", before)
			return fmt.Errorf("%s did not complete", before)
		}
	}
}

func selectNetwork(cfg *netconfig.Config, name string) (*netconfig.Network, error) {
	if name == "" {
		n, _ := cfg.Network(cfg.DefaultChainID)
		return n, nil
	}
	if n, ok := cfg.NetworkByName(name); ok {
		return n, nil
	}
	if chainID, err := strconv.ParseUint(name, 10, 64); err == nil {
		if n, ok := cfg.Network(chainID); ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("network %q is not configured", name)
}

// parseAmount reads a decimal token amount into base units.
func parseAmount(s string, balance *uint256.Int) (*uint256.Int, error) {
	if strings.EqualFold(s, "max") {
		return balance.Clone(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	units := d.Shift(tokenDecimals)
	if !units.IsInteger() {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", s, tokenDecimals)
	}
	amount, overflow := uint256.FromBig(units.BigInt())
	if overflow {
		return nil, fmt.Errorf("invalid amount %q: too large", s)
	}
	return amount, nil
}

func formatAmount(n *uint256.Int) string {
	return decimal.NewFromBigInt(n.ToBig(), -tokenDecimals).String()
}
