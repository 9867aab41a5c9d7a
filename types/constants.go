package types

const (
	// BpsDenominator represents 100% in basis points.
	BpsDenominator uint64 = 10000

	// MaxDecimals is the largest token decimal count a pool can align to.
	MaxDecimals uint8 = 18

	// MinAmplification and MaxAmplification bound the StableSwap A coefficient.
	MinAmplification uint64 = 1
	MaxAmplification uint64 = 1_000_000

	// TradeWindowSeconds is the length of the rolling trade-total window (24h).
	TradeWindowSeconds uint64 = 86400
	// SnapshotIntervalSeconds is the minimum gap between reserve snapshots (15m).
	SnapshotIntervalSeconds uint64 = 900
	// BankSnapshotIntervalSeconds is the minimum gap between bank balance snapshots (6h).
	BankSnapshotIntervalSeconds uint64 = 21600
	// SMAWindowSeconds is the length of the invariant-per-share moving average window (7d).
	SMAWindowSeconds uint64 = 604800
	// SMABucketSeconds is the width of one SMA bucket (1h).
	SMABucketSeconds uint64 = 3600

	// InvariantPerShareScale scales invariant/supply samples before averaging.
	InvariantPerShareScale uint64 = 100_000_000
)
