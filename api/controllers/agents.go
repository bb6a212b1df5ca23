package controllers

import (
	"net/http"

	"github.com/cardmint/cardmint-backend/api/middleware"
	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/api/validators"
	printqueuesvc "github.com/cardmint/cardmint-backend/internal/printqueue"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// AgentClaimDownload hands the oldest pending job to the calling agent.
// An empty queue returns a null job, not an error.
func AgentClaimDownload(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		job, err := svc.ClaimForDownload(r.Context(), agentName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if job == nil {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccess(w, newPrintJobResponse(job))
	}
}

// AgentCompleteDownload records where the agent stored the label file.
func AgentCompleteDownload(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		jobID, err := parseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload completeDownloadRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CompleteDownload(r.Context(), jobID, agentName, payload.LocalPath); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// AgentClaimPrint hands the oldest reviewed ready job to the calling agent.
func AgentClaimPrint(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		job, err := svc.ClaimForPrint(r.Context(), agentName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if job == nil {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccess(w, newPrintJobResponse(job))
	}
}

// AgentCompletePrint marks a claimed job as printed.
func AgentCompletePrint(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		jobID, err := parseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CompletePrint(r.Context(), jobID, agentName); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// AgentFailJob reports an unrecoverable problem with a claimed job.
func AgentFailJob(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		jobID, err := parseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload failJobRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.FailJob(r.Context(), jobID, agentName, payload.Message); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// AgentHeartbeat refreshes the agent's liveness marker.
func AgentHeartbeat(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		var payload heartbeatRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Heartbeat(r.Context(), agentName, payload.Hostname, payload.Version); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// AgentRecoverStuck runs the stuck-job sweep on demand. Claims already
// recover inline; this lets an agent force a sweep after its own restart.
func AgentRecoverStuck(svc *printqueuesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "print queue service unavailable"))
			return
		}

		agentName := middleware.AgentNameFromContext(r.Context())
		if agentName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}

		recovered, err := svc.RecoverStuck(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, recoverStuckResponse{Recovered: recovered})
	}
}

type completeDownloadRequest struct {
	LocalPath string `json:"local_path" validate:"required,max=512"`
}

type failJobRequest struct {
	Message string `json:"message" validate:"required,max=512"`
}

type heartbeatRequest struct {
	Hostname *string `json:"hostname,omitempty" validate:"omitempty,max=128"`
	Version  *string `json:"version,omitempty" validate:"omitempty,max=64"`
}

type recoverStuckResponse struct {
	Recovered int64 `json:"recovered"`
}
