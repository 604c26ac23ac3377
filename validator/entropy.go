package validator

import "math"

// Shannon returns the Shannon entropy of data in bits per byte (0..8).
func Shannon(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// Window is one region flagged by entropy profiling.
type Window struct {
	Offset  int
	Length  int
	Entropy float64
}

// minEntropyWindow is the smallest tail segment worth measuring; entropy
// estimates over shorter spans are too noisy to act on.
const minEntropyWindow = 256

// FlagWindows slides a window across data and returns every region whose
// entropy exceeds threshold. Windows advance by half their size so regions
// straddling a boundary are still seen.
func FlagWindows(data []byte, window int, threshold float64) []Window {
	if len(data) == 0 {
		return nil
	}
	if window <= 0 {
		window = 4 * KB
	}
	stride := window / 2
	if stride < 1 {
		stride = 1
	}

	var flagged []Window
	for offset := 0; offset < len(data); offset += stride {
		end := offset + window
		if end > len(data) {
			end = len(data)
		}
		segment := data[offset:end]
		if len(segment) < minEntropyWindow && offset > 0 {
			break
		}
		if e := Shannon(segment); e > threshold {
			flagged = append(flagged, Window{Offset: offset, Length: len(segment), Entropy: e})
		}
		if end == len(data) {
			break
		}
	}
	return flagged
}
