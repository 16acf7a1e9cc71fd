package milestone

import (
	"sort"

	"tangle-core/models"
)

// PublicKey is an ed25519 public key of a milestone issuer.
type PublicKey [models.PublicKeyLength]byte

// KeyRange authorizes PublicKey for the milestone indexes [StartIndex, EndIndex].
// An EndIndex of 0 leaves the range open.
type KeyRange struct {
	PublicKey  PublicKey
	StartIndex models.MilestoneIndex
	EndIndex   models.MilestoneIndex
}

func (r KeyRange) contains(index models.MilestoneIndex) bool {
	if index < r.StartIndex {
		return false
	}
	return r.EndIndex == 0 || index <= r.EndIndex
}

// KeyManager answers which keys may sign a given milestone index.
type KeyManager struct {
	ranges       []KeyRange
	minThreshold int
}

// NewKeyManager sorts the ranges by start index.
func NewKeyManager(minThreshold int, ranges []KeyRange) *KeyManager {
	sorted := make([]KeyRange, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartIndex < sorted[j].StartIndex
	})

	return &KeyManager{ranges: sorted, minThreshold: minThreshold}
}

// AuthorizedKeys returns the union of the keys of all ranges containing index.
func (k *KeyManager) AuthorizedKeys(index models.MilestoneIndex) map[PublicKey]struct{} {
	keys := make(map[PublicKey]struct{})
	for _, r := range k.ranges {
		if r.StartIndex > index {
			break
		}
		if r.contains(index) {
			keys[r.PublicKey] = struct{}{}
		}
	}
	return keys
}

// MinThreshold is the number of distinct authorized signatures a milestone needs.
func (k *KeyManager) MinThreshold() int {
	return k.minThreshold
}
