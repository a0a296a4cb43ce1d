package httpapi

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = []string{
	"brisk", "calm", "dusty", "eager", "faint", "gentle", "hollow", "icy",
	"jagged", "keen", "lively", "mellow", "nimble", "opal", "plucky",
	"quiet", "rapid", "steady", "tidy", "vivid",
}

var nameNouns = []string{
	"falcon", "glacier", "harbor", "inlet", "juniper", "kestrel", "lagoon",
	"meadow", "nebula", "orchard", "prairie", "quarry", "ridge", "summit",
	"tundra", "valley", "willow", "zephyr", "canyon", "delta",
}

// GenerateBuildName returns a human-readable, adjective-noun-number name.
// Uniqueness isn't required of it; the build id is the real identifier.
// The global rand source has been auto-seeded and safe for concurrent use
// since Go 1.20.
func GenerateBuildName() string {
	adj := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return fmt.Sprintf("%s-%s-%d", adj, noun, rand.Intn(10000))
}
