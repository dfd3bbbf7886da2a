package position

// PositionSide LONG or SHORT
type PositionSide int

const (
	LONG  PositionSide = 1
	SHORT PositionSide = -1
)

func (ps PositionSide) String() string {
	switch ps {
	case LONG:
		return "long"
	case SHORT:
		return "short"
	default:
		return "unknown"
	}
}

// ParseSide accepts "long"/"buy" and "short"/"sell".
func ParseSide(s string) (PositionSide, bool) {
	switch s {
	case "long", "LONG", "buy", "BUY":
		return LONG, true
	case "short", "SHORT", "sell", "SELL":
		return SHORT, true
	default:
		return 0, false
	}
}

// ========================================================

// PositionStatus Normal Liquidating
type PositionStatus int

const (
	PositionNormal      PositionStatus = iota // margin > 0
	PositionLiquidating                       // margin exhausted by funding, waiting for liquidation or deposit
)

func (ps PositionStatus) String() string {
	switch ps {
	case PositionNormal:
		return "normal"
	case PositionLiquidating:
		return "liquidating"
	default:
		return "unknown"
	}
}
