// Package aggregator keeps the time-driven statistics of a pool: rolling 24h trade totals,
// periodic reserve snapshots and a weekly moving average of the invariant per share.
//
// Every method takes the current time in seconds from the caller. A time of 0 disables
// aggregation and leaves the state untouched.
package aggregator

import (
	"github.com/defistate/amm-engine/bitset"
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// smaSlots is the number of hourly buckets in the SMA window.
const smaSlots = types.SMAWindowSeconds / types.SMABucketSeconds

// TradeWindow accumulates traded volume since Start. It restarts once now is strictly past Start+24h.
type TradeWindow struct {
	Start   uint64    `json:"start"`
	VolumeX u256.U256 `json:"volumeX"`
	VolumeY u256.U256 `json:"volumeY"`
	Trades  uint64    `json:"trades"`
}

// Record adds one trade's volume on both sides, resetting the window first if it has expired.
func (w *TradeWindow) Record(now, amountX, amountY uint64) error {
	if now == 0 {
		return nil
	}

	next := *w
	if now > w.Start+types.TradeWindowSeconds {
		next = TradeWindow{Start: now}
	}

	var err error
	if next.VolumeX, err = next.VolumeX.Add(u256.From(amountX)); err != nil {
		return err
	}
	if next.VolumeY, err = next.VolumeY.Add(u256.From(amountY)); err != nil {
		return err
	}
	next.Trades++
	*w = next
	return nil
}

// Snapshot is a reserve pair captured at Time.
type Snapshot struct {
	Time     uint64 `json:"time"`
	ReserveX uint64 `json:"reserveX"`
	ReserveY uint64 `json:"reserveY"`
}

// Snapshots holds the latest capture and the one before it.
type Snapshots struct {
	Last     Snapshot `json:"last"`
	Previous Snapshot `json:"previous"`
}

// Capture records (x, y) when now is strictly past the last capture plus the snapshot interval.
// It reports whether a snapshot was taken.
func (s *Snapshots) Capture(now, x, y uint64) bool {
	if now == 0 || now <= s.Last.Time+types.SnapshotIntervalSeconds {
		return false
	}
	s.Previous = s.Last
	s.Last = Snapshot{Time: now, ReserveX: x, ReserveY: y}
	return true
}

// SMA is a ring of hourly buckets covering the last 7 days. Each bucket keeps the latest sample
// taken during its hour; Average is the plain mean of the buckets still inside the window.
type SMA struct {
	values   [smaSlots]u256.U256
	buckets  [smaSlots]uint64
	occupied bitset.BitSet
}

func NewSMA() *SMA {
	return &SMA{occupied: bitset.NewBitSet(smaSlots)}
}

// Add stores value in the bucket for now and evicts buckets that fell out of the window.
func (s *SMA) Add(now uint64, value u256.U256) {
	if now == 0 {
		return
	}
	bucket := now / types.SMABucketSeconds
	s.evict(bucket)

	slot := bucket % smaSlots
	s.values[slot] = value
	s.buckets[slot] = bucket
	s.occupied.Set(slot)
}

func (s *SMA) evict(current uint64) {
	s.occupied.Each(func(slot uint64) {
		if !inWindow(s.buckets[slot], current) {
			s.occupied.Unset(slot)
			s.values[slot] = u256.Zero()
		}
	})
}

func inWindow(bucket, current uint64) bool {
	return bucket <= current && current-bucket < smaSlots
}

// Average returns the mean of the buckets inside the window ending at now.
// The second result is false when no bucket qualifies.
func (s *SMA) Average(now uint64) (u256.U256, bool, error) {
	current := now / types.SMABucketSeconds
	var (
		sum = u256.Zero()
		n   uint64
		err error
	)
	s.occupied.Each(func(slot uint64) {
		if err != nil || !inWindow(s.buckets[slot], current) {
			return
		}
		sum, err = sum.Add(s.values[slot])
		n++
	})
	if err != nil {
		return u256.U256{}, false, err
	}
	if n == 0 {
		return u256.Zero(), false, nil
	}
	avg, err := sum.Div(u256.From(n))
	return avg, err == nil, err
}

// Len is the number of occupied buckets, including any not yet evicted.
func (s *SMA) Len() uint64 {
	return s.occupied.Count()
}

// Clone returns a deep copy.
func (s *SMA) Clone() *SMA {
	if s == nil {
		return nil
	}
	out := *s
	out.occupied = s.occupied.Clone()
	return &out
}

// State groups the aggregation state of one pool.
type State struct {
	LastTrade uint64      `json:"lastTrade"`
	Trades    TradeWindow `json:"trades"`
	Snapshots Snapshots   `json:"snapshots"`
	SMA       *SMA        `json:"-"`
}

func NewState() State {
	return State{SMA: NewSMA()}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.SMA = s.SMA.Clone()
	return s
}

// RecordTrade updates the last-trade time and the 24h totals.
func (s *State) RecordTrade(now, amountX, amountY uint64) error {
	if now == 0 {
		return nil
	}
	if err := s.Trades.Record(now, amountX, amountY); err != nil {
		return err
	}
	s.LastTrade = now
	return nil
}

// Observe runs the per-operation bookkeeping: a reserve snapshot when due and one SMA sample.
func (s *State) Observe(now, x, y uint64, sample u256.U256) {
	if now == 0 {
		return
	}
	s.Snapshots.Capture(now, x, y)
	if s.SMA == nil {
		s.SMA = NewSMA()
	}
	s.SMA.Add(now, sample)
}

// InvariantPerShare scales an invariant by the SMA sample scale and divides by supply.
func InvariantPerShare(invariant u256.U256, supply uint64) (u256.U256, error) {
	if supply == 0 {
		return u256.U256{}, types.ErrEmptyShareSupply.Wrap("aggregator: invariant per share of an empty pool")
	}
	return invariant.MulDiv(u256.From(types.InvariantPerShareScale), u256.From(supply))
}
