// Package bank accumulates protocol fees per token, independently of any pool.
package bank

import (
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// Deposit is one token amount routed to the bank.
type Deposit struct {
	Token  common.Address `json:"token"`
	Amount uint64         `json:"amount"`
}

// Snapshot is a copy of every balance taken at Time.
type Snapshot struct {
	Time     uint64                    `json:"time"`
	Balances map[common.Address]uint64 `json:"balances"`
}

// Bank holds collected fees. It is safe for concurrent use.
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]uint64
	snapshot Snapshot
}

func New() *Bank {
	return &Bank{balances: make(map[common.Address]uint64)}
}

// DepositAll credits every deposit or none of them. When at least one amount is non-zero, now is
// non-zero and strictly past the last snapshot plus the bank snapshot interval, the resulting
// balances are captured.
func (b *Bank) DepositAll(now uint64, deposits []Deposit) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[common.Address]uint64, len(deposits))
	for _, d := range deposits {
		if d.Amount == 0 {
			continue
		}
		current, ok := next[d.Token]
		if !ok {
			current = b.balances[d.Token]
		}
		sum, err := u256.From(current).Add(u256.From(d.Amount))
		if err != nil {
			return err
		}
		total, err := sum.Uint64()
		if err != nil {
			return types.ErrOverflow.Wrapf("bank: balance of %s overflows", d.Token.Hex())
		}
		next[d.Token] = total
	}

	if len(next) == 0 {
		return nil
	}
	maps.Copy(b.balances, next)

	if now != 0 && now > b.snapshot.Time+types.BankSnapshotIntervalSeconds {
		b.snapshot = Snapshot{Time: now, Balances: maps.Clone(b.balances)}
	}
	return nil
}

// Withdraw debits amount of token.
func (b *Bank) Withdraw(token common.Address, amount uint64) error {
	if amount == 0 {
		return types.ErrInvalidParameter.Wrap("bank: withdraw amount is zero")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	balance := b.balances[token]
	if amount > balance {
		return types.ErrInsufficientBalance.Wrapf("bank: %s holds %d, requested %d", token.Hex(), balance, amount)
	}
	b.balances[token] = balance - amount
	return nil
}

func (b *Bank) Balance(token common.Address) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[token]
}

// Balances returns a copy of every balance.
func (b *Bank) Balances() map[common.Address]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.balances)
}

// LastSnapshot returns a copy of the latest capture.
func (b *Bank) LastSnapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{Time: b.snapshot.Time, Balances: maps.Clone(b.snapshot.Balances)}
}
