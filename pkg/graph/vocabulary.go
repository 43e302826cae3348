package graph

import "strings"

// Canonical relationship types. Extraction models invent near-synonyms
// freely ("resides_in", "lives at", "located within"); everything is
// collapsed to this closed vocabulary before storage and before comparison
// so the composite edge key stays stable across re-extraction.
const (
	RelContains   = "contains"
	RelLocatedIn  = "located_in"
	RelMemberOf   = "member_of"
	RelAlliedWith = "allied_with"
	RelEnemyOf    = "enemy_of"
	RelKnows      = "knows"
	RelOwns       = "owns"
	RelRelatedTo  = "related_to"
	RelParticiped = "participated_in"
	RelRules      = "rules"
	RelCreated    = "created"
)

var relationshipSynonyms = map[string]string{
	"contains":         RelContains,
	"has":              RelContains,
	"holds":            RelContains,
	"includes":         RelContains,
	"located_in":       RelLocatedIn,
	"located_at":       RelLocatedIn,
	"located_within":   RelLocatedIn,
	"lives_in":         RelLocatedIn,
	"lives_at":         RelLocatedIn,
	"resides_in":       RelLocatedIn,
	"based_in":         RelLocatedIn,
	"found_in":         RelLocatedIn,
	"member_of":        RelMemberOf,
	"belongs_to":       RelMemberOf,
	"part_of":          RelMemberOf,
	"serves":           RelMemberOf,
	"works_for":        RelMemberOf,
	"allied_with":      RelAlliedWith,
	"ally_of":          RelAlliedWith,
	"friends_with":     RelAlliedWith,
	"friend_of":        RelAlliedWith,
	"allies_with":      RelAlliedWith,
	"enemy_of":         RelEnemyOf,
	"enemies_with":     RelEnemyOf,
	"opposes":          RelEnemyOf,
	"rival_of":         RelEnemyOf,
	"hostile_to":       RelEnemyOf,
	"knows":            RelKnows,
	"acquainted_with":  RelKnows,
	"met":              RelKnows,
	"owns":             RelOwns,
	"possesses":        RelOwns,
	"carries":          RelOwns,
	"wields":           RelOwns,
	"related_to":       RelRelatedTo,
	"connected_to":     RelRelatedTo,
	"associated_with":  RelRelatedTo,
	"linked_to":        RelRelatedTo,
	"participated_in":  RelParticiped,
	"involved_in":      RelParticiped,
	"fought_in":        RelParticiped,
	"attended":         RelParticiped,
	"witnessed":        RelParticiped,
	"rules":            RelRules,
	"governs":          RelRules,
	"leads":            RelRules,
	"commands":         RelRules,
	"controls":         RelRules,
	"created":          RelCreated,
	"made":             RelCreated,
	"built":            RelCreated,
	"forged":           RelCreated,
	"founded":          RelCreated,
	"authored":         RelCreated,
}

// NormalizeRelationshipType collapses a raw type string to its canonical
// vocabulary entry. Unknown types fall back to RelRelatedTo rather than
// leaking free-form strings into the edge key space.
func NormalizeRelationshipType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	if canonical, ok := relationshipSynonyms[key]; ok {
		return canonical
	}
	return RelRelatedTo
}

// KnownRelationshipType reports whether raw already names a canonical type
// without synonym folding.
func KnownRelationshipType(raw string) bool {
	switch raw {
	case RelContains, RelLocatedIn, RelMemberOf, RelAlliedWith, RelEnemyOf,
		RelKnows, RelOwns, RelRelatedTo, RelParticiped, RelRules, RelCreated:
		return true
	}
	return false
}
