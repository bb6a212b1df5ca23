package printqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/config"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/metrics"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/outbox/payloads"
	"github.com/cardmint/cardmint-backend/pkg/pagination"
	"github.com/cardmint/cardmint-backend/pkg/security"
)

const agentTokenLength = 48

// RegisteredAgent is returned once at registration; the token is never
// stored in clear and cannot be recovered later.
type RegisteredAgent struct {
	Agent *models.PrintAgent `json:"agent"`
	Token string             `json:"token"`
}

// Service drives the label print pipeline: enqueueing, the agent claim
// protocol, review gating, stuck-job recovery and agent lifecycle.
type Service struct {
	db       *gorm.DB
	repo     Repository
	events   *outbox.Service
	metrics  *metrics.FulfillmentMetrics
	cfg      config.PrintQueueConfig
	password config.PasswordConfig
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, repository Repository, events *outbox.Service, m *metrics.FulfillmentMetrics, cfg config.PrintQueueConfig, passwordCfg config.PasswordConfig, logg *logger.Logger) *Service {
	return &Service{
		db:       db,
		repo:     repository,
		events:   events,
		metrics:  m,
		cfg:      cfg,
		password: passwordCfg,
		logg:     logg,
		now:      time.Now,
	}
}

// EnqueueLabelJob queues a freshly purchased label for printing. When the
// shipment already has a job (a label re-purchase), the existing job is
// reset to the new label and walks the pipeline again.
func (s *Service) EnqueueLabelJob(ctx context.Context, shipmentType enums.ShipmentType, shipmentID uuid.UUID, labelURL string) (*models.PrintQueueJob, bool, error) {
	if !shipmentType.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid shipment type")
	}
	if labelURL == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "label url is required")
	}

	var (
		job     *models.PrintQueueJob
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		var err error
		job, created, err = txRepo.EnqueueIfAbsent(ctx, &models.PrintQueueJob{
			ShipmentType: shipmentType,
			ShipmentID:   shipmentID,
			LabelURL:     labelURL,
		})
		if err != nil {
			return err
		}
		if !created && job.LabelURL != labelURL {
			if _, err := txRepo.ResetForNewLabel(ctx, job.ID, labelURL); err != nil {
				return err
			}
			job, err = txRepo.FindByID(ctx, job.ID)
			if err != nil {
				return err
			}
		}
		if created && s.events != nil {
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPrintJobQueued,
				AggregateType: enums.AggregatePrintJob,
				AggregateID:   job.ID,
				Data: payloads.PrintJobStateEvent{
					JobID:        job.ID,
					ShipmentType: shipmentType,
					ShipmentID:   shipmentID,
					Status:       enums.PrintJobStatusPending,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue print job")
	}
	return job, created, nil
}

// ClaimForDownload hands the oldest pending job to an agent. Stuck jobs
// are recovered first so a crashed agent's work is not stranded behind
// the sweep interval.
func (s *Service) ClaimForDownload(ctx context.Context, agentName string) (*models.PrintQueueJob, error) {
	if agentName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent name is required")
	}
	now := s.now()
	if err := s.recoverStuck(ctx, now); err != nil {
		return nil, err
	}
	job, err := s.repo.ClaimForDownload(ctx, agentName, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim download")
	}
	return job, nil
}

// CompleteDownload moves a claimed job to ready. Losing the row to the
// stuck sweep between claim and completion surfaces as a conflict the
// agent resolves by claiming again.
func (s *Service) CompleteDownload(ctx context.Context, jobID uuid.UUID, agentName, localPath string) error {
	if localPath == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "local path is required")
	}
	won, err := s.repo.CompleteDownload(ctx, jobID, agentName, localPath)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete download")
	}
	if !won {
		return pkgerrors.New(pkgerrors.CodeConflict, "job is not downloading for this agent")
	}
	return nil
}

// ClaimForPrint hands the oldest reviewed ready job to an agent.
func (s *Service) ClaimForPrint(ctx context.Context, agentName string) (*models.PrintQueueJob, error) {
	if agentName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent name is required")
	}
	now := s.now()
	if err := s.recoverStuck(ctx, now); err != nil {
		return nil, err
	}
	job, err := s.repo.ClaimForPrint(ctx, agentName, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim print")
	}
	return job, nil
}

// CompletePrint settles a printing job and emits the printed event.
func (s *Service) CompletePrint(ctx context.Context, jobID uuid.UUID, agentName string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		won, err := txRepo.CompletePrint(ctx, jobID, agentName)
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeConflict, "job is not printing for this agent")
		}
		if s.events == nil {
			return nil
		}
		job, err := txRepo.FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPrintJobPrinted,
			AggregateType: enums.AggregatePrintJob,
			AggregateID:   jobID,
			Data: payloads.PrintJobStateEvent{
				JobID:        jobID,
				ShipmentType: job.ShipmentType,
				ShipmentID:   job.ShipmentID,
				Status:       enums.PrintJobStatusPrinted,
				AgentName:    agentName,
			},
		})
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete print")
	}
	return nil
}

// FailJob records an agent-side failure.
func (s *Service) FailJob(ctx context.Context, jobID uuid.UUID, agentName, message string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		won, err := txRepo.FailJob(ctx, jobID, agentName, message)
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeConflict, "job is not active for this agent")
		}
		if s.events == nil {
			return nil
		}
		job, err := txRepo.FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPrintJobFailed,
			AggregateType: enums.AggregatePrintJob,
			AggregateID:   jobID,
			Data: payloads.PrintJobStateEvent{
				JobID:        jobID,
				ShipmentType: job.ShipmentType,
				ShipmentID:   job.ShipmentID,
				Status:       enums.PrintJobStatusFailed,
				AgentName:    agentName,
				Reason:       message,
			},
		})
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail job")
	}
	return nil
}

// Review approves the label for printing.
func (s *Service) Review(ctx context.Context, jobID uuid.UUID) error {
	won, err := s.repo.MarkReviewed(ctx, jobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "review job")
	}
	if !won {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "job is already reviewed")
	}
	return nil
}

// Reprint re-queues a terminal job for another copy of the same label.
// The existing file and review survive; only the print is repeated.
func (s *Service) Reprint(ctx context.Context, jobID uuid.UUID) (*models.PrintQueueJob, error) {
	won, err := s.repo.Requeue(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeue job")
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only printed or failed jobs can be reprinted")
	}
	return s.repo.FindByID(ctx, jobID)
}

// RecoverStuck is the sweep entry point used by cron; claims also run it
// inline.
func (s *Service) RecoverStuck(ctx context.Context) (int64, error) {
	now := s.now()
	downloads, err := s.repo.RecoverStuckDownloads(ctx, now.Add(-s.cfg.DownloadStaleAfter))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recover stuck downloads")
	}
	prints, err := s.repo.RecoverStuckPrints(ctx, now.Add(-s.cfg.PrintStaleAfter))
	if err != nil {
		return downloads, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recover stuck prints")
	}
	if s.metrics != nil {
		if downloads > 0 {
			s.metrics.IncJobsRecovered(string(enums.PrintJobStatusDownloading))
		}
		if prints > 0 {
			s.metrics.IncJobsRecovered(string(enums.PrintJobStatusPrinting))
		}
	}
	return downloads + prints, nil
}

func (s *Service) recoverStuck(ctx context.Context, now time.Time) error {
	if _, err := s.repo.RecoverStuckDownloads(ctx, now.Add(-s.cfg.DownloadStaleAfter)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recover stuck downloads")
	}
	if _, err := s.repo.RecoverStuckPrints(ctx, now.Add(-s.cfg.PrintStaleAfter)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recover stuck prints")
	}
	return nil
}

// ReportQueueDepth refreshes the queue depth gauges.
func (s *Service) ReportQueueDepth(ctx context.Context) error {
	if s.metrics == nil {
		return nil
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count queue depth")
	}
	for _, status := range []enums.PrintJobStatus{
		enums.PrintJobStatusPending,
		enums.PrintJobStatusDownloading,
		enums.PrintJobStatusReady,
		enums.PrintJobStatusPrinting,
		enums.PrintJobStatusFailed,
	} {
		s.metrics.SetQueueDepth(string(status), float64(counts[status]))
	}
	return nil
}

// RegisterAgent creates an agent and returns its one-time token.
func (s *Service) RegisterAgent(ctx context.Context, name string, hostname, version *string) (*RegisteredAgent, error) {
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent name is required")
	}
	token, err := security.GenerateAgentToken(agentTokenLength)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate agent token")
	}
	hash, err := security.HashSecret(token, s.password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash agent token")
	}
	agent := &models.PrintAgent{
		Name:      name,
		TokenHash: hash,
		Hostname:  hostname,
		Version:   version,
	}
	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create agent")
	}
	return &RegisteredAgent{Agent: agent, Token: token}, nil
}

// AuthenticateAgent verifies an agent token and refreshes LastSeenAt.
func (s *Service) AuthenticateAgent(ctx context.Context, name, token string) (*models.PrintAgent, error) {
	if name == "" || token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent credentials required")
	}
	agent, err := s.repo.FindAgentByName(ctx, name)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown agent")
	}
	if agent.Disabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "agent is disabled")
	}
	ok, err := security.VerifySecret(token, agent.TokenHash)
	if err != nil || !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid agent token")
	}
	if err := s.repo.UpsertAgentHeartbeat(ctx, name, nil, nil, s.now()); err != nil && s.logg != nil {
		s.logg.Error(ctx, "refresh agent last seen", err)
	}
	return agent, nil
}

// Heartbeat updates the agent's liveness metadata.
func (s *Service) Heartbeat(ctx context.Context, name string, hostname, version *string) error {
	if name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent name is required")
	}
	if err := s.repo.UpsertAgentHeartbeat(ctx, name, hostname, version, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record heartbeat")
	}
	return nil
}

// OfflineAgents lists agents whose last heartbeat is older than the
// configured offline threshold.
func (s *Service) OfflineAgents(ctx context.Context) ([]models.PrintAgent, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list agents")
	}
	cutoff := s.now().Add(-s.cfg.AgentOfflineAfter)
	var offline []models.PrintAgent
	for _, agent := range agents {
		if agent.Disabled {
			continue
		}
		if agent.LastSeenAt == nil || agent.LastSeenAt.Before(cutoff) {
			offline = append(offline, agent)
		}
	}
	return offline, nil
}

// ListJobs returns queue contents, optionally filtered by status.
func (s *Service) ListJobs(ctx context.Context, status *enums.PrintJobStatus, limit, offset int) ([]models.PrintQueueJob, error) {
	jobs, err := s.repo.List(ctx, status, pagination.NormalizeLimit(limit), pagination.NormalizeOffset(offset))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list jobs")
	}
	return jobs, nil
}
