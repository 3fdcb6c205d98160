package ckkswrapper

import "github.com/tuneinsight/lattigo/v6/core/rlwe"

// NeedsBootstrap returns true if the ciphertext level is at or below the threshold.
// Default threshold is 1 level remaining.
func NeedsBootstrap(ct *rlwe.Ciphertext, threshold int) bool {
	if threshold <= 0 {
		threshold = 1
	}
	return ct.Level() <= threshold
}

// DotRotations lists the left rotations a tree-sum over n slots needs: 1, 2, 4, ...
func DotRotations(n int) []int {
	var rots []int
	for step := 1; step < n; step *= 2 {
		rots = append(rots, step)
	}
	return rots
}

// PackRotations lists the right rotations that move slot 0 into slots 1..n-1.
func PackRotations(n int) []int {
	rots := make([]int, 0, n)
	for j := 1; j < n; j++ {
		rots = append(rots, -j)
	}
	return rots
}
