package loop

import "time"

// ShouldOptimize reports whether a retune is due: the history holds more
// than minHistory errors and elapsed falls within the first interval of
// the current window.
func ShouldOptimize(elapsed time.Duration, historyLen, minHistory int, window, interval time.Duration) bool {
	if historyLen <= minHistory || window <= 0 || elapsed < 0 {
		return false
	}
	return elapsed%window < interval
}
