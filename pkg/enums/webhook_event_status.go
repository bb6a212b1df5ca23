package enums

import "fmt"

// WebhookEventStatus is the processing state of a persisted provider
// event. A failure mid-processing leaves the row at "received" so the
// provider's next delivery attempt retries the remaining work.
type WebhookEventStatus string

const (
	WebhookEventStatusReceived  WebhookEventStatus = "received"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusSkipped   WebhookEventStatus = "skipped"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventStatusReceived,
	WebhookEventStatusProcessed,
	WebhookEventStatusSkipped,
}

// String implements fmt.Stringer.
func (s WebhookEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWebhookEventStatus converts raw input into a WebhookEventStatus.
func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}
