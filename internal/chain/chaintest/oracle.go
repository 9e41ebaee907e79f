// Package chaintest provides an in-memory chain.Oracle for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"reflex-arena/internal/chain"
)

// Oracle is a programmable fake chain. It is safe for concurrent use.
type Oracle struct {
	mu       sync.Mutex
	head     uint64
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
	nonce    uint64
	Err      error // returned by every call when set
}

// NewOracle creates a fake chain at block head.
func NewOracle(head uint64) *Oracle {
	return &Oracle{head: head, receipts: make(map[common.Hash]*types.Receipt)}
}

// SetHead moves the chain head.
func (o *Oracle) SetHead(head uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.head = head
}

// FailWith makes every call return err until cleared with nil.
func (o *Oracle) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Err = err
}

// AddTransfer mines a successful token transfer at block and returns its hash.
func (o *Oracle) AddTransfer(token, from, to common.Address, value *big.Int, block uint64) common.Hash {
	return o.add(token, from, to, value, block, types.ReceiptStatusSuccessful)
}

// AddReverted mines a failed transaction with no logs at block.
func (o *Oracle) AddReverted(block uint64) common.Hash {
	return o.add(common.Address{}, common.Address{}, common.Address{}, nil, block, types.ReceiptStatusFailed)
}

func (o *Oracle) add(token, from, to common.Address, value *big.Int, block uint64, status uint64) common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nonce++
	hash := common.BigToHash(new(big.Int).SetUint64(0xfeed0000 + o.nonce))
	receipt := &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(block),
	}
	if status == types.ReceiptStatusSuccessful {
		l := types.Log{
			Address: token,
			Topics: []common.Hash{
				chain.TransferTopic,
				common.BytesToHash(from.Bytes()),
				common.BytesToHash(to.Bytes()),
			},
			Data:        common.LeftPadBytes(value.Bytes(), 32),
			BlockNumber: block,
			TxHash:      hash,
		}
		receipt.Logs = []*types.Log{&l}
		o.logs = append(o.logs, l)
	}
	o.receipts[hash] = receipt
	return hash
}

// TransactionReceipt implements chain.Oracle.
func (o *Oracle) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	r, ok := o.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// FilterLogs implements chain.Oracle for address and positional topic filters.
func (o *Oracle) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	if q.FromBlock == nil || q.ToBlock == nil {
		return nil, errors.New("chaintest: block range required")
	}

	var out []types.Log
	for _, l := range o.logs {
		if l.BlockNumber < q.FromBlock.Uint64() || l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !topicsMatch(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// BlockNumber implements chain.Oracle.
func (o *Oracle) BlockNumber(context.Context) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return 0, o.Err
	}
	return o.head, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range alternatives {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var _ chain.Oracle = (*Oracle)(nil)
