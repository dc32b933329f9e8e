package workflow

import (
	"math/rand"
	"regexp"
)

const maxSeed = 1 << 31 // exclusive upper bound for generated seeds

var seedNodePattern = regexp.MustCompile(`(?i)(sampler|noise)`)

// seedFieldNames are the input keys recognized as seed slots, in the order
// common graph exporters emit them.
var seedFieldNames = []string{"seed", "noise_seed", "random_seed"}

// ResolveSeed returns the caller's seed when it is a usable non-negative
// value, otherwise a fresh random seed in [0, 2^31-1).
func ResolveSeed(seed *int64) int64 {
	if seed != nil && *seed >= 0 && *seed < maxSeed {
		return *seed
	}
	return rand.Int63n(maxSeed - 1)
}

// injectSeed writes the resolved seed into every sampler/noise node carrying
// a recognized seed field and reports how many slots it set.
func injectSeed(nodes []Node, seed int64) int {
	set := 0
	for _, node := range nodes {
		if !seedNodePattern.MatchString(node.ClassType) {
			continue
		}
		for _, field := range seedFieldNames {
			if _, ok := node.Inputs[field]; ok {
				node.Inputs[field] = seed
				set++
			}
		}
	}
	return set
}
