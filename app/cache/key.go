package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var safeIdentity = regexp.MustCompile(`^[A-Za-z0-9_@.-]{1,64}$`)

// VisibilityKey identifies which variant of an owner's feed a viewer gets:
// either a set of grouping ids or a single identity. The zero value is the
// public variant.
type VisibilityKey struct {
	Groupings []int64
	Identity  string
}

func GroupingKey(ids ...int64) VisibilityKey {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return VisibilityKey{Groupings: slices.Compact(sorted)}
}

func IdentityKey(identity string) VisibilityKey {
	return VisibilityKey{Identity: identity}
}

func (k VisibilityKey) IsPublic() bool {
	return k.Identity == "" && len(k.Groupings) == 0
}

// String encodes the key as used in cache file names. Grouping sets are
// order independent. Identities safe for a file name are prefixed with "u-";
// others are hashed and prefixed with "h-", so the two forms never meet.
func (k VisibilityKey) String() string {
	if k.Identity != "" {
		if safeIdentity.MatchString(k.Identity) {
			return "u-" + k.Identity
		}
		sum := sha256.Sum256([]byte(k.Identity))
		return "h-" + hex.EncodeToString(sum[:16])
	}

	if len(k.Groupings) == 0 {
		return ""
	}

	ids := slices.Clone(k.Groupings)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
