package fieldmap

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// RegionAlias canonicalizes any location name containing Match
// (case-insensitive) to Canonical.
type RegionAlias struct {
	Match     string
	Canonical string
}

// RegionTable is the district alias table. It is configuration data: the
// built-in entries cover the known Colombo variants and deployments extend it
// through REGION_ALIASES.
type RegionTable struct {
	aliases []RegionAlias
}

// DefaultRegionAliases are always present, ahead of configured extras.
var DefaultRegionAliases = []RegionAlias{
	{Match: "colombo", Canonical: "Colombo"},
	{Match: "wijayaba", Canonical: "Colombo"},
}

// NewRegionTable builds a table from the defaults plus extra alias pairs
// (alias substring -> canonical). Extras are applied in sorted alias order so
// map iteration never changes the result.
func NewRegionTable(extra map[string]string) *RegionTable {
	aliases := append([]RegionAlias(nil), DefaultRegionAliases...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := strings.ToLower(strings.TrimSpace(k))
		c := strings.TrimSpace(extra[k])
		if m == "" || c == "" {
			continue
		}
		aliases = append(aliases, RegionAlias{Match: m, Canonical: c})
	}
	return &RegionTable{aliases: aliases}
}

// Canonical maps a raw district name to its canonical region. Matching uses
// Unicode case folding. Unknown names are returned trimmed but otherwise
// unchanged; an empty input yields "".
func (t *RegionTable) Canonical(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// Casers carry state; one per call keeps the table safe for concurrent use.
	fold := cases.Fold()
	folded := fold.String(name)
	for _, a := range t.aliases {
		if strings.Contains(folded, fold.String(a.Match)) {
			return a.Canonical
		}
	}
	return name
}
