// Package wallet provides an in-process wallet used by the dev loop and the
// tests: it owns a private key and answers the same RPCs a browser wallet
// would, including simulated user rejection.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// LocalWallet signs with an in-memory key.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	chainID uint64

	mu         sync.Mutex
	rejectNext bool
	subs       []chan core.WalletEvent
}

// NewLocalWallet generates a fresh key.
func NewLocalWallet(chainID uint64) (*LocalWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &LocalWallet{key: key, chainID: chainID}, nil
}

// Address returns the wallet's single account.
func (w *LocalWallet) Address() string {
	return crypto.PubkeyToAddress(w.key.PublicKey).Hex()
}

// RejectNext makes the next prompt-opening call fail with the user-rejected
// RPC code, for tests.
func (w *LocalWallet) RejectNext() {
	w.mu.Lock()
	w.rejectNext = true
	w.mu.Unlock()
}

func (w *LocalWallet) RequestAccounts(context.Context) ([]string, error) {
	if err := w.consumeRejection(); err != nil {
		return nil, err
	}
	return []string{w.Address()}, nil
}

func (w *LocalWallet) ChainID(context.Context) (uint64, error) {
	return w.chainID, nil
}

// PersonalSign produces an EIP-191 signature with the wallet-conventional
// V of 27/28.
func (w *LocalWallet) PersonalSign(_ context.Context, message, _ string) (string, error) {
	if err := w.consumeRejection(); err != nil {
		return "", err
	}
	digest := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// Subscribe implements ports.WalletEventSource.
func (w *LocalWallet) Subscribe(ctx context.Context) (<-chan core.WalletEvent, func(), error) {
	ch := make(chan core.WalletEvent, 8)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, sub := range w.subs {
			if sub == ch {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// Emit delivers an event to all subscribers, for tests and the dev loop.
func (w *LocalWallet) Emit(event core.WalletEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

func (w *LocalWallet) consumeRejection() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectNext {
		w.rejectNext = false
		return &ports.RPCError{Code: ports.UserRejectedCode, Message: "user rejected the request"}
	}
	return nil
}
