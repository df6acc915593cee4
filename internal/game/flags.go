package game

// Entity flag bits. The flags store is the tag of the entity tagged union;
// dispatch on kind is always a mask test, never a type switch on objects.
const (
	FlagActive uint32 = 1 << iota
	FlagPlayer
	FlagBot
	FlagFood
	FlagProjectile
	FlagDead
	FlagObstacle
)

// Food kind occupies bits 8..10 of the flags word (up to 8 kinds).
const (
	foodKindShift = 8
	foodKindMask  = 0x7 << foodKindShift
)

// FoodKind values map to pigment hues the spawner distributes per ring.
const (
	FoodKindRed uint32 = iota
	FoodKindGreen
	FoodKindBlue
	FoodKindNeutral
)

// FoodKindBits packs a food kind into its flag bits.
func FoodKindBits(kind uint32) uint32 {
	return (kind << foodKindShift) & foodKindMask
}

// FoodKindOf extracts the food kind from a flags word.
func FoodKindOf(flags uint32) uint32 {
	return (flags & foodKindMask) >> foodKindShift
}

// Action bits carried in the input store's actions lane.
const (
	ActionSpace uint32 = 1 << iota
	ActionEject
)
