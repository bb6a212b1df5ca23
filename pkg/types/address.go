package types

import "strings"

// Address is the buyer-facing shipping address stored as jsonb on orders
// and shipments.
type Address struct {
	Name       string  `json:"name"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

// Complete reports whether the fields required to purchase a shipping label
// are present.
func (a Address) Complete() bool {
	for _, field := range []string{a.Name, a.Line1, a.City, a.State, a.PostalCode} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// NormalizedCountry returns the ISO country code, defaulting to US.
func (a Address) NormalizedCountry() string {
	country := strings.TrimSpace(strings.ToUpper(a.Country))
	if country == "" {
		return "US"
	}
	return country
}

// JSONMap is a free-form jsonb column.
type JSONMap map[string]any
