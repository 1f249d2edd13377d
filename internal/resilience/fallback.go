package resilience

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// ErrNoViableQuantity means no quantity within safe limits could satisfy the
// exchange; the execution is terminal.
var ErrNoViableQuantity = errors.New("no viable quantity for fallback")

// Fallback shrinks a rejected order quantity within safe limits. It only
// reacts to sizing errors (insufficient balance, below minimum notional);
// everything else passes through untouched.
type Fallback struct {
	// MinQuantity is the absolute floor; fallback below it fails instead.
	MinQuantity float64
}

// Sizing-related Binance API codes: insufficient balance, min notional,
// invalid quantity.
var sizingAPICodes = map[int64]bool{
	-2019: true,
	-4164: true,
	-1013: true,
}

// IsSizingError reports whether err is a quantity/balance problem the
// fallback strategy is allowed to handle.
func IsSizingError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if sizingAPICodes[apiErr.Code] {
			return true
		}
		msg := strings.ToLower(apiErr.Message)
		return strings.Contains(msg, "insufficient") || strings.Contains(msg, "notional")
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient balance") || strings.Contains(msg, "min notional") || strings.Contains(msg, "below minimum")
}

// Adjust proposes a reduced quantity after a sizing rejection: half the
// request, or the available quantity when that is smaller, never below
// MinQuantity.
func (f *Fallback) Adjust(requested, available float64) (float64, error) {
	if requested <= 0 {
		return 0, fmt.Errorf("%w: requested %v", ErrNoViableQuantity, requested)
	}
	candidate := requested / 2
	if available > 0 && available < candidate {
		candidate = available
	}
	if candidate < f.MinQuantity || candidate <= 0 {
		return 0, fmt.Errorf("%w: candidate %v below minimum %v", ErrNoViableQuantity, candidate, f.MinQuantity)
	}
	return candidate, nil
}
