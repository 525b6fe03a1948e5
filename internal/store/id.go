package store

import (
	"regexp"

	"github.com/loomorch/loom/internal/loomerr"
)

// idPattern is the stage/dependency id grammar from spec.md §6.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// reservedIDs blocks filesystem-meaningful names that would otherwise let a
// crafted stage id escape the stages/ directory or collide with special
// files.
var reservedIDs = map[string]bool{
	".": true, "..": true,
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
}

// ValidID reports whether id satisfies the stage id grammar and is not a
// reserved filesystem name.
func ValidID(id string) bool {
	if !idPattern.MatchString(id) {
		return false
	}
	return !reservedIDs[id]
}

// ValidateID returns a classified validation error if id is not usable as a
// stage or dependency id.
func ValidateID(op, id string) error {
	if !ValidID(id) {
		return loomerr.Validation(op, "invalid stage id: "+id, nil)
	}
	return nil
}
