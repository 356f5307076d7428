package search

import (
	"math"
	"sort"

	"github.com/snow-ghost/feasopt/config"
)

// seedShare is the part of the budget reserved for seeded local search.
const seedShare = 0.70

// allocation is one planned phase of a scan-seeded run.
type allocation struct {
	phase     string
	seedIndex int
	island    string
	budget    int
}

// allocate splits n between seeded pattern searches and a closing random
// phase. Seeds are grouped by island when multiIsland is set; every island
// and every seed gets at least 10 evaluations.
func allocate(n int, seeds []config.Seed, multiIsland bool) []allocation {
	if len(seeds) == 0 {
		return []allocation{{phase: PhaseRandom, budget: n}}
	}
	seedTotal := max(1, int(math.RoundToEven(seedShare*float64(n))))

	var groups [][]int
	var names []string
	if multiIsland {
		byIsland := map[string][]int{}
		for i, sd := range seeds {
			byIsland[sd.Island()] = append(byIsland[sd.Island()], i)
		}
		for id := range byIsland {
			names = append(names, id)
		}
		sortIslands(names)
		for _, id := range names {
			groups = append(groups, byIsland[id])
		}
	} else {
		all := make([]int, len(seeds))
		for i := range seeds {
			all[i] = i
		}
		groups = [][]int{all}
		names = []string{""}
	}

	perIsland := max(10, seedTotal/len(groups))
	var out []allocation
	for gi, g := range groups {
		perSeed := max(10, perIsland/len(g))
		for _, si := range g {
			out = append(out, allocation{phase: PhaseSeedPattern, seedIndex: si, island: names[gi], budget: perSeed})
		}
	}
	return append(out, allocation{phase: PhaseRandom, budget: n - seedTotal})
}

// sortIslands orders island ids alphabetically with the untagged id last.
func sortIslands(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i] == config.NoIsland, ids[j] == config.NoIsland
		if a != b {
			return b
		}
		return ids[i] < ids[j]
	})
}
