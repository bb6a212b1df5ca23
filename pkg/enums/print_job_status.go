package enums

import "fmt"

// PrintJobStatus tracks a label through the print agent claim protocol.
type PrintJobStatus string

const (
	PrintJobStatusPending     PrintJobStatus = "pending"
	PrintJobStatusDownloading PrintJobStatus = "downloading"
	PrintJobStatusReady       PrintJobStatus = "ready"
	PrintJobStatusPrinting    PrintJobStatus = "printing"
	PrintJobStatusPrinted     PrintJobStatus = "printed"
	PrintJobStatusFailed      PrintJobStatus = "failed"
)

var validPrintJobStatuses = []PrintJobStatus{
	PrintJobStatusPending,
	PrintJobStatusDownloading,
	PrintJobStatusReady,
	PrintJobStatusPrinting,
	PrintJobStatusPrinted,
	PrintJobStatusFailed,
}

// String implements fmt.Stringer.
func (s PrintJobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PrintJobStatus) IsValid() bool {
	for _, candidate := range validPrintJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job has left the active pipeline.
func (s PrintJobStatus) IsTerminal() bool {
	return s == PrintJobStatusPrinted || s == PrintJobStatusFailed
}

// ParsePrintJobStatus converts raw input into a PrintJobStatus.
func ParsePrintJobStatus(value string) (PrintJobStatus, error) {
	for _, candidate := range validPrintJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid print job status %q", value)
}

// PrintJobReviewStatus gates printing on operator review of the label.
type PrintJobReviewStatus string

const (
	PrintJobReviewStatusNeedsReview PrintJobReviewStatus = "needs_review"
	PrintJobReviewStatusReviewed    PrintJobReviewStatus = "reviewed"
)

var validPrintJobReviewStatuses = []PrintJobReviewStatus{
	PrintJobReviewStatusNeedsReview,
	PrintJobReviewStatusReviewed,
}

// String implements fmt.Stringer.
func (s PrintJobReviewStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PrintJobReviewStatus) IsValid() bool {
	for _, candidate := range validPrintJobReviewStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePrintJobReviewStatus converts raw input into a PrintJobReviewStatus.
func ParsePrintJobReviewStatus(value string) (PrintJobReviewStatus, error) {
	for _, candidate := range validPrintJobReviewStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid print job review status %q", value)
}
