package services

import (
	"strings"

	"github.com/google/uuid"
)

// NoSubjects is stored when an order resolves to an empty subject set.
const NoSubjects = "No subjects"

// IsUUID reports whether s has the canonical 8-4-4-4-12 UUID shape. Legacy
// enrollment rows store add-on ids in subject_name; these need resolving.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// PartitionAddonCandidates splits subject_name values into add-on ids that
// need a lookup and names that are already human readable.
func PartitionAddonCandidates(candidates []string) (ids []string, names []string) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if IsUUID(c) {
			ids = append(ids, strings.ToLower(c))
		} else {
			names = append(names, c)
		}
	}
	return ids, names
}

// ResolveAddonSubjects maps add-on ids to names via resolved, keeping
// non-UUID candidates as they are. Ids missing from resolved are kept raw.
func ResolveAddonSubjects(candidates []string, resolved map[string]string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if IsUUID(c) {
			if name, ok := resolved[strings.ToLower(c)]; ok && name != "" {
				out = append(out, name)
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// MergeSubjects unions mandatory and add-on subjects, keeping first-seen
// order and dropping case-insensitive duplicates.
func MergeSubjects(mandatory, addons []string) []string {
	seen := make(map[string]struct{}, len(mandatory)+len(addons))
	var out []string
	for _, list := range [][]string{mandatory, addons} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			key := strings.ToLower(s)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// FormatSubjects joins subjects for storage.
func FormatSubjects(subjects []string) string {
	if len(subjects) == 0 {
		return NoSubjects
	}
	return strings.Join(subjects, ", ")
}
