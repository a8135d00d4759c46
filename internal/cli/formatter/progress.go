package formatter

import (
	"fmt"
	"strings"
)

const (
	filledBlock = "█"
	emptyBlock  = "░"
)

// ConfidenceBar renders a model confidence in [0,1] like [████░░░░] 0.45.
// High confidence is green, middling yellow and low red.
func ConfidenceBar(conf float64, width int) string {
	conf = min(max(conf, 0), 1)
	width = max(width, 2)

	filled := min(int(conf*float64(width)), width)
	bar := strings.Repeat(filledBlock, filled) + strings.Repeat(emptyBlock, width-filled)

	style := StyleGreen
	switch {
	case conf < 0.5:
		style = StyleRed
	case conf < 0.8:
		style = StyleYellow
	}
	return fmt.Sprintf("[%s] %.2f", style.Render(bar), conf)
}

// RateBar renders the defect rate against its target. The bar is full when
// the rate reaches twice the target; the target sits at its midpoint.
func RateBar(rate, target float64, width int) string {
	width = max(width, 4)
	if target <= 0 {
		target = 1e-9
	}
	ratio := min(max(rate/(2*target), 0), 1)
	filled := int(ratio * float64(width))
	mid := width / 2

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == mid:
			b.WriteString(StyleFg.Render("│"))
		case i < filled:
			if rate > target {
				b.WriteString(StyleRed.Render(filledBlock))
			} else {
				b.WriteString(StyleGreen.Render(filledBlock))
			}
		default:
			b.WriteString(StyleDim.Render(emptyBlock))
		}
	}
	return "[" + b.String() + "]"
}
