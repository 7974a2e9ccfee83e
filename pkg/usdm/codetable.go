package usdm

// codeTableEntry is one curated vocabulary entry used to expand a
// {code, decode} pair into a full 6-field Code object.
type codeTableEntry struct {
	codeSystem        string
	codeSystemVersion string
}

// codeTables holds the curated per-category vocabularies Stage 7 expands
// against (spec.md §4.9): encounter-type, timing-type, timing-reference,
// cycle-number, specimen-type, container, purpose.
var codeTables = map[string]codeTableEntry{
	"encounter-type":    {"http://www.cdisc.org/CT", "2024-09-27"},
	"timing-type":       {"http://www.cdisc.org/CT", "2024-09-27"},
	"timing-reference":  {"http://www.cdisc.org/CT", "2024-09-27"},
	"cycle-number":      {"http://www.cdisc.org/CT", "2024-09-27"},
	"specimen-type":     {"http://www.cdisc.org/CT", "2024-09-27"},
	"container":         {"http://www.cdisc.org/CT", "2024-09-27"},
	"purpose":           {"http://www.cdisc.org/CT", "2024-09-27"},
}

// ExpandSimpleCode promotes a {code, decode} pair to a full 6-field Code
// object using the curated table for `category`. Unknown categories fall
// back to a generic internal code system rather than failing, since Stage 7
// auto-fix is the default mode (spec.md §4.9).
func ExpandSimpleCode(id string, pair SimpleCodePair, category string) Code {
	entry, ok := codeTables[category]
	if !ok {
		entry = codeTableEntry{codeSystem: "http://interpretpipe.local/codes", codeSystemVersion: "1.0"}
	}
	return NewCode(id, pair.Code, pair.Decode, entry.codeSystem, entry.codeSystemVersion)
}

// KnownCategories lists the categories the curated table covers.
func KnownCategories() []string {
	out := make([]string, 0, len(codeTables))
	for k := range codeTables {
		out = append(out, k)
	}
	return out
}
