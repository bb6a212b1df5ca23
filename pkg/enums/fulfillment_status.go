package enums

import "fmt"

// FulfillmentStatus tracks shipping progress for a shipment row.
// Label purchase mutual exclusion is carried by the lock columns,
// not by this status.
type FulfillmentStatus string

const (
	FulfillmentStatusPending        FulfillmentStatus = "pending"
	FulfillmentStatusProcessing     FulfillmentStatus = "processing"
	FulfillmentStatusReviewed       FulfillmentStatus = "reviewed"
	FulfillmentStatusLabelPurchased FulfillmentStatus = "label_purchased"
	FulfillmentStatusShipped        FulfillmentStatus = "shipped"
	FulfillmentStatusInTransit      FulfillmentStatus = "in_transit"
	FulfillmentStatusDelivered      FulfillmentStatus = "delivered"
	FulfillmentStatusException      FulfillmentStatus = "exception"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusPending,
	FulfillmentStatusProcessing,
	FulfillmentStatusReviewed,
	FulfillmentStatusLabelPurchased,
	FulfillmentStatusShipped,
	FulfillmentStatusInTransit,
	FulfillmentStatusDelivered,
	FulfillmentStatusException,
}

// String implements fmt.Stringer.
func (s FulfillmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
