package market

// rsi14 computes the 14-period Relative Strength Index from a series of
// closing prices, oldest first. Returns 50 (neutral) when there isn't
// enough history.
func rsi14(closes []float64) float64 {
	const period = 14
	if len(closes) < period+1 {
		return 50
	}

	var gainSum, lossSum float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}

	avgGain := gainSum / period
	avgLoss := lossSum / period
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// supportResistance estimates the nearest support/resistance from the
// extrema of the last n candles.
func supportResistance(candles []Candle, n int) (support, resistance float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	start := 0
	if len(candles) > n {
		start = len(candles) - n
	}

	support = candles[start].Low
	resistance = candles[start].High
	for _, c := range candles[start:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
}

func movingAverage(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	start := 0
	if len(closes) > period {
		start = len(closes) - period
	}
	window := closes[start:]

	var sum float64
	for _, c := range window {
		sum += c
	}
	return sum / float64(len(window))
}

// volumeBand buckets 24h volume against the coin's trailing average volume.
type volumeBand int

const (
	volumeLow volumeBand = iota
	volumeNormal
	volumeHigh
)

func classifyVolume(candles []Candle, latest float64) volumeBand {
	if len(candles) == 0 {
		return volumeNormal
	}
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	avg := sum / float64(len(candles))
	if avg == 0 {
		return volumeNormal
	}
	switch {
	case latest < avg*0.5:
		return volumeLow
	case latest > avg*1.5:
		return volumeHigh
	default:
		return volumeNormal
	}
}

// signal computes the BUY/HOLD/WATCH/SELL call of spec.md §4.4 from a
// weighted sum of four factors: 24h momentum sign, RSI zone, price vs.
// 30-day moving average, and volume level.
func signal(change24h, rsi, price, ma30 float64, volBand volumeBand) string {
	score := 0.0

	switch {
	case change24h > 0:
		score += 1
	case change24h < 0:
		score -= 1
	}

	switch {
	case rsi > 70:
		score -= 1 // overbought
	case rsi < 30:
		score += 1 // oversold, room to run
	}

	if ma30 > 0 {
		switch {
		case price > ma30*1.02:
			score += 1
		case price < ma30*0.98:
			score -= 1
		}
	}

	switch volBand {
	case volumeHigh:
		if score > 0 {
			score += 0.5
		} else if score < 0 {
			score -= 0.5
		}
	case volumeLow:
		score *= 0.5
	}

	switch {
	case score >= 1.5:
		return "BUY"
	case score <= -1.5:
		return "SELL"
	case score <= -0.5:
		return "WATCH"
	default:
		return "HOLD"
	}
}
