package pagination

const (
	// DefaultLimit is the page size when a caller does not provide one.
	DefaultLimit = 25
	// MaxLimit caps how many rows a single list query may return.
	MaxLimit = 100
	// MaxOffset bounds how deep offset paging can walk; catalogs are
	// small enough that anything past this is a client bug.
	MaxOffset = 1_000_000
)

// NormalizeLimit clamps a requested page size into [1, MaxLimit],
// defaulting when unset.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizeOffset clamps a requested offset into [0, MaxOffset].
func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	if offset > MaxOffset {
		return MaxOffset
	}
	return offset
}
