package services

import (
	"sort"

	"battlescope/internal/battles/models"
	killmailModels "battlescope/internal/killmails/models"
)

// assignSides partitions a cluster's alliances into sides with union-find
// over per-killmail relations: alliances attacking on the same killmail
// fight together, and alliances whose pilots were killed by a common
// alliance fight together. Components are numbered 1..N ordered by size
// desc, then smallest alliance id. Returns the sides and the
// alliance-to-side lookup used for participants.
func assignSides(cluster []killmailModels.KillmailEvent) ([]models.BattleSide, map[int64]int) {
	uf := newUnionFind()

	// victims seen per attacker alliance; co-victims of one alliance
	// belong to the same side
	victimsOf := make(map[int64][]int64)

	for _, e := range cluster {
		attackers := e.AttackerAllianceIDs
		for i := 1; i < len(attackers); i++ {
			uf.union(attackers[0], attackers[i])
		}
		for _, a := range attackers {
			uf.add(a)
		}

		if e.VictimAllianceID == nil {
			continue
		}
		victim := *e.VictimAllianceID
		uf.add(victim)
		for _, a := range attackers {
			victimsOf[a] = append(victimsOf[a], victim)
		}
	}

	for _, victims := range victimsOf {
		for i := 1; i < len(victims); i++ {
			uf.union(victims[0], victims[i])
		}
	}

	components := uf.components()
	if len(components) == 0 {
		return nil, nil
	}

	sort.Slice(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] < components[j][0]
	})

	sides := make([]models.BattleSide, len(components))
	sideByAlliance := make(map[int64]int)
	for i, member := range components {
		sideID := i + 1
		sides[i] = models.BattleSide{SideID: sideID, AllianceIDs: member}
		for _, allianceID := range member {
			sideByAlliance[allianceID] = sideID
		}
	}

	return sides, sideByAlliance
}

type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) add(id int64) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id int64) int64 {
	u.add(id)
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		u.parent[id], id = root, u.parent[id]
	}
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// smaller root wins to keep components deterministic
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// components returns the alliance groups, each sorted ascending
func (u *unionFind) components() [][]int64 {
	byRoot := make(map[int64][]int64)
	for id := range u.parent {
		root := u.find(id)
		byRoot[root] = append(byRoot[root], id)
	}

	out := make([][]int64, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		out = append(out, members)
	}
	return out
}
