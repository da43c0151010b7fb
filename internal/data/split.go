package data

import (
	"math/rand"

	"lethe/internal/model"
)

// Split shuffles responses with the given seed and holds out valFraction of
// them for validation. The same seed always produces the same partition.
func Split(responses []model.Response, valFraction float64, seed int64) (train, val []model.Response) {
	if valFraction <= 0 || len(responses) < 2 {
		return append([]model.Response(nil), responses...), nil
	}
	if valFraction >= 1 {
		return nil, append([]model.Response(nil), responses...)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(len(responses))
	nVal := int(float64(len(responses)) * valFraction)
	if nVal < 1 {
		nVal = 1
	}
	if nVal >= len(responses) {
		nVal = len(responses) - 1
	}

	val = make([]model.Response, 0, nVal)
	train = make([]model.Response, 0, len(responses)-nVal)
	for i, p := range perm {
		if i < nVal {
			val = append(val, responses[p])
		} else {
			train = append(train, responses[p])
		}
	}
	return train, val
}
