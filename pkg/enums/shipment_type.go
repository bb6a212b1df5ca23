package enums

import "fmt"

// ShipmentType distinguishes which table a shipment reference points at.
type ShipmentType string

const (
	ShipmentTypeOrder       ShipmentType = "order"
	ShipmentTypeMarketplace ShipmentType = "marketplace"
)

var validShipmentTypes = []ShipmentType{
	ShipmentTypeOrder,
	ShipmentTypeMarketplace,
}

// String implements fmt.Stringer.
func (s ShipmentType) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s ShipmentType) IsValid() bool {
	for _, candidate := range validShipmentTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseShipmentType converts raw input into a ShipmentType.
func ParseShipmentType(value string) (ShipmentType, error) {
	for _, candidate := range validShipmentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment type %q", value)
}
