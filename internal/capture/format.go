package capture

import (
	"fmt"
	"strings"

	"finsight/internal/types"
)

// NoPriceData is the sentinel summary when nothing was captured. The
// synthesizer treats it as "no meaningful price data".
const NoPriceData = "No price data available."

// Dataset metric names in the chart payload.
const (
	MetricPrice  = "Price"
	MetricDMA50  = "DMA50"
	MetricDMA200 = "DMA200"
	MetricVolume = "Volume"
)

// summaryWindow is how many trailing trading days the table shows.
const summaryWindow = 10

// FormatSummary renders a captured bundle as the text block fed to the
// synthesizer: headline stats, a recent-days table, and moving-average
// position statements.
func FormatSummary(b *types.PriceSeriesBundle, symbol string) string {
	if b == nil {
		return NoPriceData
	}
	price := b.Find(MetricPrice)
	if price == nil || len(price.Values) == 0 {
		return NoPriceData
	}

	dma50 := b.Find(MetricDMA50)
	dma200 := b.Find(MetricDMA200)
	volume := b.Find(MetricVolume)

	first := price.Values[0].Value
	last := price.Values[len(price.Values)-1].Value
	change := last - first
	pct := 0.0
	if first != 0 {
		pct = change / first * 100
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Price Summary for %s (%d trading days):\n", symbol, len(price.Values))
	fmt.Fprintf(&sb, "First Price: ₹%.2f (%s)\n", first, price.Values[0].Date)
	fmt.Fprintf(&sb, "Latest Price: ₹%.2f (%s)\n", last, price.Values[len(price.Values)-1].Date)
	fmt.Fprintf(&sb, "Change: ₹%.2f (%+.2f%%)\n", change, pct)
	fmt.Fprintf(&sb, "Current DMA50: %s\n", currentValue(dma50, "₹"))
	fmt.Fprintf(&sb, "Current DMA200: %s\n", currentValue(dma200, "₹"))
	fmt.Fprintf(&sb, "Current Volume: %s\n", currentValue(volume, ""))

	sb.WriteString("\nLast 10 Trading Days:\n")
	fmt.Fprintf(&sb, "%-12s %-12s %-12s %-12s %s\n", "Date", "Price", "DMA50", "DMA200", "Volume")
	window := summaryWindow
	if len(price.Values) < window {
		window = len(price.Values)
	}
	for i := len(price.Values) - window; i < len(price.Values); i++ {
		// Align companion datasets by distance from their own tail, so a
		// shorter series yields N/A instead of a misaligned value.
		back := len(price.Values) - 1 - i
		fmt.Fprintf(&sb, "%-12s %-12s %-12s %-12s %s\n",
			price.Values[i].Date,
			fmt.Sprintf("₹%.2f", price.Values[i].Value),
			alignedValue(dma50, back, "₹"),
			alignedValue(dma200, back, "₹"),
			alignedValue(volume, back, ""),
		)
	}

	sb.WriteString("\n")
	sb.WriteString(positionStatement(last, dma50, "50-day"))
	sb.WriteString(positionStatement(last, dma200, "200-day"))

	return strings.TrimRight(sb.String(), "\n")
}

// currentValue renders the latest sample of a dataset, or N/A.
func currentValue(d *types.Dataset, prefix string) string {
	if d == nil || len(d.Values) == 0 {
		return "N/A"
	}
	v := d.Values[len(d.Values)-1].Value
	if prefix == "" {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%s%.2f", prefix, v)
}

// alignedValue renders the sample `back` positions from the dataset's
// tail, or N/A when the series is too short.
func alignedValue(d *types.Dataset, back int, prefix string) string {
	if d == nil {
		return "N/A"
	}
	idx := len(d.Values) - 1 - back
	if idx < 0 {
		return "N/A"
	}
	v := d.Values[idx].Value
	if prefix == "" {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%s%.2f", prefix, v)
}

// positionStatement says whether the latest price sits above, below,
// or at a moving average.
func positionStatement(last float64, d *types.Dataset, label string) string {
	if d == nil || len(d.Values) == 0 {
		return ""
	}
	avg := d.Values[len(d.Values)-1].Value
	switch {
	case last > avg:
		return fmt.Sprintf("The current price is above the %s moving average.\n", label)
	case last < avg:
		return fmt.Sprintf("The current price is below the %s moving average.\n", label)
	default:
		return fmt.Sprintf("The current price is at the %s moving average.\n", label)
	}
}
