package pool

import (
	"strings"

	"github.com/defistate/amm-engine/fees"
	stableswap "github.com/defistate/amm-engine/protocols/stableswap/calculator"
	"github.com/defistate/amm-engine/types"
)

// Kind selects the invariant a pool trades on.
type Kind uint8

const (
	KindConstantProduct Kind = iota
	KindStable
)

func (k Kind) String() string {
	switch k {
	case KindConstantProduct:
		return "constant-product"
	case KindStable:
		return "stable"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool { return k == KindConstantProduct || k == KindStable }

// ParseKind accepts the String form and the short aliases "cpmm" and "stableswap".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constant-product", "cpmm":
		return KindConstantProduct, nil
	case "stable", "stableswap":
		return KindStable, nil
	default:
		return 0, types.ErrInvalidParameter.Wrapf("unknown pool kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Config is everything fixed or initialized at pool creation.
type Config struct {
	Kind    Kind       `json:"kind"`
	Fees    fees.Rates `json:"fees"`
	FeeSide types.Side `json:"feeSide"`
	// Amplification is only read for stable pools.
	Amplification uint64 `json:"amplification,omitempty"`
	DecimalsX     uint8  `json:"decimalsX"`
	DecimalsY     uint8  `json:"decimalsY"`
}

// Validate checks the kind, fee rates, fee side, decimals and, for stable pools, A.
func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return types.ErrInvalidParameter.Wrapf("pool kind %d", c.Kind)
	}
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	if !c.FeeSide.Valid() {
		return types.ErrInvalidParameter.Wrapf("fee side %d", c.FeeSide)
	}
	if c.DecimalsX > types.MaxDecimals || c.DecimalsY > types.MaxDecimals {
		return types.ErrInvalidParameter.Wrapf("token decimals (%d, %d) exceed %d", c.DecimalsX, c.DecimalsY, types.MaxDecimals)
	}
	if c.Kind == KindStable {
		return stableswap.ValidateAmplification(c.Amplification)
	}
	return nil
}
