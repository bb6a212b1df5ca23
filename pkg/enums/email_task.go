package enums

import "fmt"

// EmailTaskKind names the template a queued email renders.
type EmailTaskKind string

const (
	EmailTaskKindOrderConfirmation EmailTaskKind = "order_confirmation"
	EmailTaskKindRefundNotice      EmailTaskKind = "refund_notice"
)

var validEmailTaskKinds = []EmailTaskKind{
	EmailTaskKindOrderConfirmation,
	EmailTaskKindRefundNotice,
}

// IsValid reports whether the value is known.
func (k EmailTaskKind) IsValid() bool {
	for _, candidate := range validEmailTaskKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseEmailTaskKind converts raw input into an EmailTaskKind.
func ParseEmailTaskKind(value string) (EmailTaskKind, error) {
	for _, candidate := range validEmailTaskKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email task kind %q", value)
}

// EmailTaskStatus is the delivery state of a queued email.
type EmailTaskStatus string

const (
	EmailTaskStatusPending EmailTaskStatus = "pending"
	EmailTaskStatusSent    EmailTaskStatus = "sent"
	EmailTaskStatusFailed  EmailTaskStatus = "failed"
)

var validEmailTaskStatuses = []EmailTaskStatus{
	EmailTaskStatusPending,
	EmailTaskStatusSent,
	EmailTaskStatusFailed,
}

// IsValid reports whether the value is known.
func (s EmailTaskStatus) IsValid() bool {
	for _, candidate := range validEmailTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
