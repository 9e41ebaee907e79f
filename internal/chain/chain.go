// Package chain verifies WLD payments against an Ethereum-compatible chain.
//
// The Oracle interface is the subset of ethclient.Client the service needs,
// so production wiring is ethclient.Dial and tests use an in-memory fake.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is the ERC-20 Transfer(address,address,uint256) event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Verification failures. ErrReverted is terminal for the intent; the others
// may succeed on a later attempt.
var (
	ErrTxNotFound             = errors.New("transaction not found")
	ErrReverted               = errors.New("transaction reverted")
	ErrNotEnoughConfirmations = errors.New("not enough confirmations")
	ErrNoMatchingTransfer     = errors.New("no matching transfer")
)

// Oracle reads chain state.
type Oracle interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Transfer is a decoded ERC-20 transfer.
type Transfer struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
}

// DecodeTransfer decodes l if it is a Transfer event.
func DecodeTransfer(l types.Log) (Transfer, bool) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic || len(l.Data) != 32 {
		return Transfer{}, false
	}
	return Transfer{
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Value:       new(big.Int).SetBytes(l.Data),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
	}, true
}

// Verifier checks that a payment of at least a given value went from a payer
// to the treasury in the configured token.
type Verifier struct {
	oracle           Oracle
	token            common.Address
	treasury         common.Address
	minConfirmations uint64
}

// NewVerifier creates a Verifier.
func NewVerifier(oracle Oracle, token, treasury common.Address, minConfirmations uint64) *Verifier {
	return &Verifier{
		oracle:           oracle,
		token:            token,
		treasury:         treasury,
		minConfirmations: minConfirmations,
	}
}

// Head returns the latest block number.
func (v *Verifier) Head(ctx context.Context) (uint64, error) {
	head, err := v.oracle.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return head, nil
}

// VerifyPayment checks the receipt of txHash: it must have succeeded, be
// buried under minConfirmations blocks and contain a matching transfer.
func (v *Verifier) VerifyPayment(ctx context.Context, txHash common.Hash, from common.Address, minValue *big.Int) (*Transfer, error) {
	receipt, err := v.oracle.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrReverted
	}

	head, err := v.Head(ctx)
	if err != nil {
		return nil, err
	}
	if receipt.BlockNumber == nil || confirmations(head, receipt.BlockNumber.Uint64()) < v.minConfirmations {
		return nil, ErrNotEnoughConfirmations
	}

	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		if t, ok := v.match(*l, from, minValue); ok {
			return &t, nil
		}
	}
	return nil, ErrNoMatchingTransfer
}

// FindTransfer scans [fromBlock, toBlock] for a transfer from the payer to
// the treasury worth at least minValue. Transfers for which skip returns
// true are ignored.
func (v *Verifier) FindTransfer(ctx context.Context, from common.Address, minValue *big.Int, fromBlock, toBlock uint64, skip func(common.Hash) bool) (*Transfer, error) {
	if toBlock < fromBlock {
		return nil, ErrNoMatchingTransfer
	}
	logs, err := v.oracle.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{v.token},
		Topics: [][]common.Hash{
			{TransferTopic},
			{common.BytesToHash(from.Bytes())},
			{common.BytesToHash(v.treasury.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		t, ok := v.match(l, from, minValue)
		if !ok || (skip != nil && skip(t.TxHash)) {
			continue
		}
		return &t, nil
	}
	return nil, ErrNoMatchingTransfer
}

func (v *Verifier) match(l types.Log, from common.Address, minValue *big.Int) (Transfer, bool) {
	if l.Address != v.token {
		return Transfer{}, false
	}
	t, ok := DecodeTransfer(l)
	if !ok || t.From != from || t.To != v.treasury || t.Value.Cmp(minValue) < 0 {
		return Transfer{}, false
	}
	return t, true
}

// confirmations counts the inclusion block itself as the first confirmation.
func confirmations(head, block uint64) uint64 {
	if head < block {
		return 0
	}
	return head - block + 1
}
