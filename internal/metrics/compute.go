package metrics

// computeMean calculates arithmetic mean of values.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeSlope fits y against x = 0..n-1 by ordinary least squares and
// returns the coefficient. ok is false for fewer than 2 samples.
func computeSlope(y []float64) (slope float64, ok bool) {
	n := len(y)
	if n < 2 {
		return 0, false
	}

	xMean := float64(n-1) / 2
	yMean := computeMean(y)

	var sxy, sxx float64
	for i, v := range y {
		dx := float64(i) - xMean
		sxy += dx * (v - yMean)
		sxx += dx * dx
	}
	return sxy / sxx, true
}

// computeReturn returns the fractional change from prev to cur.
func computeReturn(prev, cur float64) float64 {
	return (cur - prev) / prev
}

// computeSMA returns the simple moving average series of values over window.
// Element i is the mean of values[i-window+1 .. i]; the first window-1
// positions have no value and are omitted, so the result has
// len(values)-window+1 elements.
func computeSMA(values []float64, window int) []float64 {
	if window <= 0 || len(values) < window {
		return nil
	}

	out := make([]float64, 0, len(values)-window+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

// lastN returns the trailing n values, or nil when fewer exist.
func lastN(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nil
	}
	return values[len(values)-n:]
}
