package chain

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer signs transactions and EIP-712 messages for one account. SignTypedData returns a
// 65-byte [R || S || V] signature with V in {0, 1}.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *KeySigner) Address() common.Address { return s.address }

func (s *KeySigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (s *KeySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	return sig, nil
}

// KeystoreSigner signs with an encrypted key from a geth keystore directory.
type KeystoreSigner struct {
	ks         *keystore.KeyStore
	account    accounts.Account
	passphrase string
}

// NewKeystoreSigner opens dir and selects address, or the only account when address is
// empty.
func NewKeystoreSigner(dir, address, passphrase string) (*KeystoreSigner, error) {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)

	var account accounts.Account
	if address == "" {
		all := ks.Accounts()
		if len(all) != 1 {
			return nil, fmt.Errorf("keystore %s has %d accounts, an address is required", dir, len(all))
		}
		account = all[0]
	} else {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid address %q", address)
		}
		found, err := ks.Find(accounts.Account{Address: common.HexToAddress(address)})
		if err != nil {
			return nil, fmt.Errorf("failed to find account %s: %w", address, err)
		}
		account = found
	}
	return &KeystoreSigner{ks: ks, account: account, passphrase: passphrase}, nil
}

func (s *KeystoreSigner) Address() common.Address { return s.account.Address }

func (s *KeystoreSigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := s.ks.SignTxWithPassphrase(s.account, s.passphrase, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (s *KeystoreSigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := s.ks.SignHashWithPassphrase(s.account, s.passphrase, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	return sig, nil
}

// PromptSigner asks for confirmation before every signature. Anything but "y" or "yes"
// rejects with ErrUserRejected.
type PromptSigner struct {
	Signer

	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewPromptSigner(signer Signer, in io.Reader, out io.Writer) *PromptSigner {
	return &PromptSigner{Signer: signer, in: bufio.NewReader(in), out: out}
}

func (s *PromptSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := s.confirm(describeTx(tx)); err != nil {
		return nil, err
	}
	return s.Signer.SignTx(ctx, tx, chainID)
}

func (s *PromptSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	prompt := fmt.Sprintf("sign %s for %s (spender %v, value %v, deadline %v)",
		data.PrimaryType, data.Domain.Name, data.Message["spender"], data.Message["value"], data.Message["deadline"])
	if err := s.confirm(prompt); err != nil {
		return nil, err
	}
	return s.Signer.SignTypedData(ctx, data)
}

func (s *PromptSigner) confirm(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.out, "%s? [y/N] ", prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return ErrUserRejected
	}
}

func describeTx(tx *types.Transaction) string {
	method := "call"
	if data := tx.Data(); len(data) >= 4 {
		if m, err := stakingABI.MethodById(data[:4]); err == nil {
			method = m.Name
		}
	}
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	return fmt.Sprintf("send %s to %s (nonce %d, gas %d, max fee %s wei)", method, to, tx.Nonce(), tx.Gas(), tx.GasFeeCap())
}
