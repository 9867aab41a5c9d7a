package types

// Side names one of the two tokens of a pool.
type Side uint8

const (
	SideX Side = iota
	SideY
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideX {
		return SideY
	}
	return SideX
}

func (s Side) Valid() bool { return s == SideX || s == SideY }

func (s Side) String() string {
	switch s {
	case SideX:
		return "x"
	case SideY:
		return "y"
	default:
		return "unknown"
	}
}
