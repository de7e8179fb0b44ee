package answer

import (
	"regexp"
	"strconv"
)

// SourceReference links one cited marker back to its chunk.
type SourceReference struct {
	Marker     int
	ChunkID    string
	DocumentID string
}

var sourceMarkerRe = regexp.MustCompile(`\[Source (\d+)\]`)

// LinkSources resolves [Source N] markers in the response against the
// assembler's source map. References are deduplicated keeping first
// occurrence order. Markers with no table entry come back in the second
// return value; they are reported, not fatal.
func LinkSources(response string, assembled Assembled) ([]SourceReference, []int) {
	matches := sourceMarkerRe.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	seen := make(map[int]bool)
	var refs []SourceReference
	var unknown []int

	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true

		chunkID, ok := assembled.SourceMap[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		refs = append(refs, SourceReference{
			Marker:     n,
			ChunkID:    chunkID,
			DocumentID: assembled.DocumentMap[n],
		})
	}
	return refs, unknown
}
