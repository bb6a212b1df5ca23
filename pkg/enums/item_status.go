package enums

import "fmt"

// ItemStatus tracks the sale lifecycle of a single collectible item.
// Items are unique physical goods, so there is no quantity dimension.
type ItemStatus string

const (
	ItemStatusInStock  ItemStatus = "in_stock"
	ItemStatusReserved ItemStatus = "reserved"
	ItemStatusSold     ItemStatus = "sold"
)

var validItemStatuses = []ItemStatus{
	ItemStatusInStock,
	ItemStatusReserved,
	ItemStatusSold,
}

// String implements fmt.Stringer.
func (s ItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s ItemStatus) IsValid() bool {
	for _, candidate := range validItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseItemStatus converts raw input into an ItemStatus.
func ParseItemStatus(value string) (ItemStatus, error) {
	for _, candidate := range validItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item status %q", value)
}
