// Package assembler implements the Digest Assembler: composing the final
// digest text from already-fetched inputs (selected items, market
// snapshot, weather, holiday) in the exact section order spec.md §4.5
// requires, then splitting it to fit the transport's message size limit.
package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/maine/newsdigestbot/internal/news"
)

const footer = "— automated digest, headlines link to their original source"

// Input carries everything the Assembler needs; gathering it is the
// Scheduler's job, not this package's.
type Input struct {
	ChatID      string
	Slot        news.Slot // empty for on-demand digests
	Now         time.Time
	Timezone    string
	HolidayName string
	HasWeather  bool
	Weather     news.WeatherSnapshot
	Items       map[news.Category][]news.Item // exactly itemsPerCategory entries each
	HasMarket   bool
	Market      news.MarketSnapshot
	Commentary  string
}

// Build composes a Digest from in, splitting into transport-sized messages.
func Build(in Input) news.Digest {
	var blocks []string
	blocks = append(blocks, headerLine(in))
	if holiday := holidayLine(in.HolidayName); holiday != "" {
		blocks = append(blocks, holiday)
	}
	if in.HasWeather {
		blocks = append(blocks, weatherBlock(in.Weather))
	}
	for _, category := range news.Categories {
		blocks = append(blocks, categoryBlock(category, in.Items[category], in.Now))
	}
	if in.HasMarket {
		blocks = append(blocks, marketBlock(in.Market, in.Commentary))
	} else {
		blocks = append(blocks, "*Market*\nmarket data temporarily unavailable")
	}
	blocks = append(blocks, footer)

	messages := splitIntoMessages(blocks)

	return news.Digest{
		ChatID:       in.ChatID,
		Slot:         in.Slot,
		Messages:     messages,
		Fingerprints: collectFingerprints(in.Items),
		CreatedAt:    in.Now,
	}
}

func headerLine(in Input) string {
	loc, err := time.LoadLocation(in.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := in.Now.In(loc)
	_, offsetSecs := local.Zone()
	offsetHours := float64(offsetSecs) / 3600

	label := string(in.Slot)
	if label == "" {
		label = "On-demand"
	}

	return fmt.Sprintf("*%s — %s* (UTC%+.1f)", local.Format("Monday, January 2"), label, offsetHours)
}

func holidayLine(name string) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf("🎉 Public holiday today: %s", escapeMarkdown(name))
}

func weatherBlock(w news.WeatherSnapshot) string {
	return fmt.Sprintf(
		"*Weather*\n%.0f–%.0f°C, %s · AQI %d · UV %.1f",
		w.TempMinC, w.TempMaxC, escapeMarkdown(w.Condition), w.AQI, w.UV,
	)
}

func categoryBlock(category news.Category, items []news.Item, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*%s*\n", categoryTitle(category)))

	for i, it := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, renderItem(it, now)))
	}
	return sb.String()
}

func renderItem(it news.Item, now time.Time) string {
	if it.Placeholder {
		return "_no fresh stories right now_"
	}
	return fmt.Sprintf("[%s](%s) — %s (%s)", escapeMarkdown(it.Title), it.URL, it.SourceID, relativeAge(it.PublishedAt, now))
}

func categoryTitle(c news.Category) string {
	switch c {
	case news.CategoryLocal:
		return "Local"
	case news.CategoryGlobal:
		return "World"
	case news.CategoryTech:
		return "Tech"
	case news.CategorySports:
		return "Sports"
	case news.CategoryFinanceCrypto:
		return "Finance & Crypto"
	default:
		return string(c)
	}
}

func marketBlock(snap news.MarketSnapshot, commentary string) string {
	var sb strings.Builder
	sb.WriteString("*Market*\n")
	sb.WriteString(fmt.Sprintf("Cap $%.1fB · Vol $%.1fB · Fear/Greed %d\n", snap.TotalCapUSD/1e9, snap.TotalVolumeUSD/1e9, snap.FearGreedIndex))

	sb.WriteString("Gainers: ")
	sb.WriteString(formatQuotes(snap.Gainers))
	sb.WriteString("\nLosers: ")
	sb.WriteString(formatQuotes(snap.Losers))

	if commentary != "" {
		sb.WriteString("\n")
		sb.WriteString(escapeMarkdown(commentary))
	}
	return sb.String()
}

func formatQuotes(quotes []news.CoinQuote) string {
	parts := make([]string, 0, len(quotes))
	for _, q := range quotes {
		parts = append(parts, fmt.Sprintf("%s %+.1f%%", q.Symbol, q.PctChange24h))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func relativeAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func collectFingerprints(byCategory map[news.Category][]news.Item) []string {
	var out []string
	for _, category := range news.Categories {
		for _, it := range byCategory[category] {
			if it.Placeholder {
				continue
			}
			out = append(out, it.Fingerprint)
		}
	}
	return out
}

// FormatCoinDetail renders the /btcstats|/coinstats reply text.
func FormatCoinDetail(d news.CoinDetail) string {
	return fmt.Sprintf(
		"*%s* $%.2f\n1h %+.2f%% · 24h %+.2f%% · 7d %+.2f%% · 30d %+.2f%%\nRSI(14) %.1f (%s) · Support $%.2f · Resistance $%.2f\nSignal: *%s*",
		d.Symbol, d.Price, d.Change1h, d.Change24h, d.Change7d, d.Change30d, d.RSI14, rsiInterpretation(d.RSI14), d.Support, d.Resistance, d.Signal,
	)
}

// rsiInterpretation labels an RSI(14) value with the overbought/oversold
// zone spec.md §4.4's signal computation already uses internally (>70
// overbought, <30 oversold).
func rsiInterpretation(rsi float64) string {
	switch {
	case rsi > 70:
		return "overbought"
	case rsi < 30:
		return "oversold"
	default:
		return "neutral"
	}
}

var markdownMetachars = strings.NewReplacer(
	"\\", "\\\\",
	"*", "\\*",
	"_", "\\_",
	"[", "\\[",
	"]", "\\]",
	"`", "\\`",
)

// escapeMarkdown sanitizes free text so it can't break the conservative
// Markdown subset (bold, links) the Assembler emits.
func escapeMarkdown(s string) string {
	return markdownMetachars.Replace(s)
}
