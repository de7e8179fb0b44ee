package answer

import "strings"

// dedupJaccardThreshold marks two passages as near-duplicates. Overlapping
// chunk windows routinely exceed it.
const dedupJaccardThreshold = 0.7

// Deduplicate drops passages whose token sets are near-duplicates of an
// earlier, higher-ranked passage. Order is preserved.
func Deduplicate(passages []Passage) []Passage {
	if len(passages) < 2 {
		return passages
	}

	kept := make([]Passage, 0, len(passages))
	keptSets := make([]map[string]struct{}, 0, len(passages))

	for _, p := range passages {
		set := tokenSet(p.Text)
		dup := false
		for _, prev := range keptSets {
			if jaccard(set, prev) >= dedupJaccardThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, p)
			keptSets = append(keptSets, set)
		}
	}
	return kept
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = struct{}{}
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
