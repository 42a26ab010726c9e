// Package metrics computes pass@k reliability statistics over repeated
// independent samples of a (test, model) group.
package metrics

import (
	"fmt"
	"math/big"
	"sort"
)

// Result holds pass@k estimates for the k values that could be computed and
// lists the ones that could not (k greater than the sample count).
type Result struct {
	Values        map[int]float64
	NotComputable []int
}

// PassAtK returns the unbiased estimator of "at least one pass in k draws
// without replacement from n samples with c passes":
//
//	pass@k = 1 - C(n-c, k) / C(n, k)
//
// When fewer than k failures exist (n-c < k) every k-subset contains a pass,
// so the estimate is exactly 1. A requested k > n is undefined for the group
// and is reported in NotComputable rather than clamped or extrapolated.
func PassAtK(c, n int, ks []int) (Result, error) {
	if n < 0 || c < 0 || c > n {
		return Result{}, fmt.Errorf("invalid counts: c=%d n=%d (require 0 <= c <= n)", c, n)
	}

	res := Result{Values: make(map[int]float64, len(ks))}
	for _, k := range ks {
		if k <= 0 {
			return Result{}, fmt.Errorf("invalid k value %d (require k > 0)", k)
		}
		if k > n {
			res.NotComputable = append(res.NotComputable, k)
			continue
		}
		if n-c < k {
			res.Values[k] = 1.0
			continue
		}
		// 1 - C(n-c, k)/C(n, k), evaluated exactly before converting.
		num := new(big.Int).Binomial(int64(n-c), int64(k))
		den := new(big.Int).Binomial(int64(n), int64(k))
		ratio := new(big.Rat).SetFrac(num, den)
		miss, _ := ratio.Float64()
		res.Values[k] = 1.0 - miss
	}
	sort.Ints(res.NotComputable)
	return res, nil
}

// Format converts the estimates to a string-keyed map with keys in ascending
// numeric order, keeping JSON serialization stable across encoders.
func Format(values map[int]float64) map[string]float64 {
	keys := make([]int, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make(map[string]float64, len(values))
	for _, k := range keys {
		out[fmt.Sprintf("%d", k)] = values[k]
	}
	return out
}
