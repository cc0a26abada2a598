package quota

import (
	"sort"
	"strings"
)

// CostTable maps operation kinds to quota units.
type CostTable struct {
	costs    map[string]int64
	fallback int64
}

// NewCostTable copies costs and uses fallback for unknown kinds.
func NewCostTable(costs map[string]int64, fallback int64) CostTable {
	copied := make(map[string]int64, len(costs))
	for kind, cost := range costs {
		copied[normalizeKind(kind)] = cost
	}
	return CostTable{costs: copied, fallback: fallback}
}

// Cost returns the units charged for kind.
func (t CostTable) Cost(kind string) int64 {
	if cost, ok := t.costs[normalizeKind(kind)]; ok {
		return cost
	}
	return t.fallback
}

// Kinds lists the configured operation kinds in name order.
func (t CostTable) Kinds() []string {
	kinds := make([]string, 0, len(t.costs))
	for kind := range t.costs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
