package brackets

import (
	"encoding/json"
	"fmt"
	"os"
)

// SeedingRule maps one group rank position into a bracket slot, e.g.
// {"group": "A", "rank": 1, "bracket_uid": "SF1", "slot": 1} sends the winner
// of group A into slot 1 of the match tagged SF1.
type SeedingRule struct {
	Group      string `json:"group"`
	Rank       int    `json:"rank"`
	BracketUID string `json:"bracket_uid"`
	Slot       int    `json:"slot"`
}

// SeedingTable is the static, externally supplied pairing configuration. The
// resolver never computes pairings; it only applies these rules.
type SeedingTable struct {
	rules   []SeedingRule
	byGroup map[string][]SeedingRule
}

func NewSeedingTable(rules []SeedingRule) (*SeedingTable, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("seeding table has no rules")
	}

	byGroup := make(map[string][]SeedingRule)
	seenSlot := make(map[string]SeedingRule)
	seenSource := make(map[string]SeedingRule)

	for _, r := range rules {
		if r.Group == "" || r.BracketUID == "" {
			return nil, fmt.Errorf("seeding rule missing group or bracket_uid: %+v", r)
		}
		if r.Rank < 1 {
			return nil, fmt.Errorf("seeding rule for group %s has non-positive rank %d", r.Group, r.Rank)
		}
		if r.Slot != 1 && r.Slot != 2 {
			return nil, fmt.Errorf("seeding rule for group %s rank %d has invalid slot %d", r.Group, r.Rank, r.Slot)
		}

		slotKey := fmt.Sprintf("%s#%d", r.BracketUID, r.Slot)
		if prev, ok := seenSlot[slotKey]; ok {
			return nil, fmt.Errorf("bracket slot %s/%d fed by both %s-%d and %s-%d",
				r.BracketUID, r.Slot, prev.Group, prev.Rank, r.Group, r.Rank)
		}
		seenSlot[slotKey] = r

		sourceKey := fmt.Sprintf("%s#%d", r.Group, r.Rank)
		if prev, ok := seenSource[sourceKey]; ok {
			return nil, fmt.Errorf("group %s rank %d seeds both %s/%d and %s/%d",
				r.Group, r.Rank, prev.BracketUID, prev.Slot, r.BracketUID, r.Slot)
		}
		seenSource[sourceKey] = r

		byGroup[r.Group] = append(byGroup[r.Group], r)
	}

	return &SeedingTable{rules: rules, byGroup: byGroup}, nil
}

// LoadSeedingTable reads and validates a JSON seeding table file.
func LoadSeedingTable(path string) (*SeedingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seeding table %s: %w", path, err)
	}
	var rules []SeedingRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse seeding table %s: %w", path, err)
	}
	return NewSeedingTable(rules)
}

// ForGroup returns the rules consuming the given group's standings. An empty
// result means the group feeds nothing downstream (e.g. a final).
func (t *SeedingTable) ForGroup(code string) []SeedingRule {
	return t.byGroup[code]
}

// IntakeForGroup returns how many ranked participants the downstream bracket
// takes from the group: the highest rank any rule references.
func (t *SeedingTable) IntakeForGroup(code string) int {
	intake := 0
	for _, r := range t.byGroup[code] {
		if r.Rank > intake {
			intake = r.Rank
		}
	}
	return intake
}
