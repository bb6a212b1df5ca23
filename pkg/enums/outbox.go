package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder             OutboxAggregateType = "order"
	AggregateItem              OutboxAggregateType = "item"
	AggregateFulfillmentRecord OutboxAggregateType = "fulfillment_record"
	AggregatePrintJob          OutboxAggregateType = "print_job"
	AggregateEmailTask         OutboxAggregateType = "email_task"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateItem,
	AggregateFulfillmentRecord,
	AggregatePrintJob,
	AggregateEmailTask,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated             OutboxEventType = "order_created"
	EventOrderRefunded            OutboxEventType = "order_refunded"
	EventReservationReleased      OutboxEventType = "reservation_released"
	EventReservationExpired       OutboxEventType = "reservation_expired"
	EventLabelPurchased           OutboxEventType = "label_purchased"
	EventPrintJobQueued           OutboxEventType = "print_job_queued"
	EventPrintJobPrinted          OutboxEventType = "print_job_printed"
	EventPrintJobFailed           OutboxEventType = "print_job_failed"
	EventEmailTaskQueued          OutboxEventType = "email_task_queued"
	EventMarketplaceOrderImported OutboxEventType = "marketplace_order_imported"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderRefunded,
	EventReservationReleased,
	EventReservationExpired,
	EventLabelPurchased,
	EventPrintJobQueued,
	EventPrintJobPrinted,
	EventPrintJobFailed,
	EventEmailTaskQueued,
	EventMarketplaceOrderImported,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
