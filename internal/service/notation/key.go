package notation

import (
	"errors"
	"math"
)

// ErrKeyUndetermined is returned when the notes carry no usable tonal profile.
var ErrKeyUndetermined = errors.New("key could not be determined")

// Krumhansl-Kessler probe-tone profiles, starting at the tonic.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// fifthsOfMajor maps a major tonic pitch class to its key signature.
var fifthsOfMajor = [12]int{0, -5, 2, -3, 4, -1, 6, 1, -4, 3, -2, 5}

// AnalyzeKey infers the key of a score from its duration-weighted pitch classes.
func AnalyzeKey(s *Score) (*Key, error) {
	var weights [12]float64
	s.eachNote(func(e *Element) {
		pc := ((e.Pitch % 12) + 12) % 12
		weights[pc] += float64(e.Duration)
	})
	return inferKey(weights)
}

func inferKey(weights [12]float64) (*Key, error) {
	best := math.Inf(-1)
	var key *Key
	for tonic := 0; tonic < 12; tonic++ {
		for _, mode := range []string{"major", "minor"} {
			profile := majorProfile
			if mode == "minor" {
				profile = minorProfile
			}
			var rotated [12]float64
			for i := 0; i < 12; i++ {
				rotated[(tonic+i)%12] = profile[i]
			}
			r, ok := correlate(weights, rotated)
			if !ok {
				return nil, ErrKeyUndetermined
			}
			if r > best {
				best = r
				key = &Key{Fifths: fifthsFor(tonic, mode), Mode: mode}
			}
		}
	}
	if key == nil {
		return nil, ErrKeyUndetermined
	}
	return key, nil
}

func fifthsFor(tonic int, mode string) int {
	if mode == "minor" {
		return fifthsOfMajor[(tonic+3)%12]
	}
	return fifthsOfMajor[tonic]
}

// correlate returns the Pearson correlation, or false when either input is flat.
func correlate(a, b [12]float64) (float64, bool) {
	var meanA, meanB float64
	for i := 0; i < 12; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= 12
	meanB /= 12

	var cov, varA, varB float64
	for i := 0; i < 12; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
