package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/api/validators"
	printqueuesvc "github.com/cardmint/cardmint-backend/internal/printqueue"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// ListPrintJobs returns print queue jobs, optionally filtered by status.
func ListPrintJobs(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		var status *enums.PrintJobStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParsePrintJobStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown print job status"))
				return
			}
			status = &parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		jobs, err := svc.ListJobs(r.Context(), status, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]printJobResponse, 0, len(jobs))
		for i := range jobs {
			out = append(out, newPrintJobResponse(&jobs[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// ReviewPrintJob clears the review hold so agents may print the label.
func ReviewPrintJob(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		jobID, err := parseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Review(r.Context(), jobID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// ReprintJob re-queues a finished job for another print of the same label.
func ReprintJob(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		jobID, err := parseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Reprint(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPrintJobResponse(job))
	}
}

// RegisterPrintAgent creates a print agent and returns its token once.
func RegisterPrintAgent(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		var payload registerAgentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		registered, err := svc.RegisterAgent(r.Context(), validators.SanitizeString(payload.Name, 64), payload.Hostname, payload.Version)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, registerAgentResponse{
			ID:    registered.Agent.ID,
			Name:  registered.Agent.Name,
			Token: registered.Token,
		})
	}
}

type registerAgentRequest struct {
	Name     string  `json:"name" validate:"required,min=2,max=64"`
	Hostname *string `json:"hostname,omitempty" validate:"omitempty,max=128"`
	Version  *string `json:"version,omitempty" validate:"omitempty,max=64"`
}

type registerAgentResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Token string    `json:"token"`
}

type printJobResponse struct {
	ID             uuid.UUID  `json:"id"`
	ShipmentType   string     `json:"shipment_type"`
	ShipmentID     uuid.UUID  `json:"shipment_id"`
	Status         string     `json:"status"`
	ReviewStatus   string     `json:"review_status"`
	LabelURL       string     `json:"label_url"`
	LabelLocalPath *string    `json:"label_local_path,omitempty"`
	ClaimedBy      *string    `json:"claimed_by,omitempty"`
	Attempts       int        `json:"attempts"`
	PrintCount     int        `json:"print_count"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newPrintJobResponse(job *models.PrintQueueJob) printJobResponse {
	return printJobResponse{
		ID:             job.ID,
		ShipmentType:   job.ShipmentType.String(),
		ShipmentID:     job.ShipmentID,
		Status:         job.Status.String(),
		ReviewStatus:   job.ReviewStatus.String(),
		LabelURL:       job.LabelURL,
		LabelLocalPath: job.LabelLocalPath,
		ClaimedBy:      job.ClaimedBy,
		Attempts:       job.Attempts,
		PrintCount:     job.PrintCount,
		ErrorMessage:   job.ErrorMessage,
		LastAttemptAt:  job.LastAttemptAt,
		CreatedAt:      job.CreatedAt,
	}
}
