package printqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardmint/cardmint-backend/internal/repo"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// claimScanLimit bounds how many candidates one claim call inspects when
// racing other agents for the head of the queue.
const claimScanLimit = 10

// Repository implements the print job claim protocol. Every transition is
// a conditional update keyed on the current status (and claimer), so two
// agents can never hold the same job.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnqueueIfAbsent(ctx context.Context, job *models.PrintQueueJob) (*models.PrintQueueJob, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PrintQueueJob, error)
	FindByShipment(ctx context.Context, shipmentType enums.ShipmentType, shipmentID uuid.UUID) (*models.PrintQueueJob, error)
	List(ctx context.Context, status *enums.PrintJobStatus, limit, offset int) ([]models.PrintQueueJob, error)
	CountByStatus(ctx context.Context) (map[enums.PrintJobStatus]int64, error)

	ClaimForDownload(ctx context.Context, agentName string, now time.Time) (*models.PrintQueueJob, error)
	CompleteDownload(ctx context.Context, id uuid.UUID, agentName, localPath string) (bool, error)
	ClaimForPrint(ctx context.Context, agentName string, now time.Time) (*models.PrintQueueJob, error)
	CompletePrint(ctx context.Context, id uuid.UUID, agentName string) (bool, error)
	FailJob(ctx context.Context, id uuid.UUID, agentName, message string) (bool, error)

	MarkReviewed(ctx context.Context, id uuid.UUID) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)
	ResetForNewLabel(ctx context.Context, id uuid.UUID, labelURL string) (bool, error)
	RecoverStuckDownloads(ctx context.Context, staleBefore time.Time) (int64, error)
	RecoverStuckPrints(ctx context.Context, staleBefore time.Time) (int64, error)

	UpsertAgentHeartbeat(ctx context.Context, name string, hostname, version *string, at time.Time) error
	CreateAgent(ctx context.Context, agent *models.PrintAgent) error
	FindAgentByName(ctx context.Context, name string) (*models.PrintAgent, error)
	SetAgentDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
	ListAgents(ctx context.Context) ([]models.PrintAgent, error)
}

type repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: repo.NewBase(tx)}
}

// EnqueueIfAbsent inserts a job for the shipment unless one exists. The
// caller decides what to do with an existing job (requeue, reset).
func (r *repository) EnqueueIfAbsent(ctx context.Context, job *models.PrintQueueJob) (*models.PrintQueueJob, bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = enums.PrintJobStatusPending
	}
	if job.ReviewStatus == "" {
		job.ReviewStatus = enums.PrintJobReviewStatusNeedsReview
	}
	res := r.base.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shipment_type"}, {Name: "shipment_id"}},
		DoNothing: true,
	}).Create(job)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return job, true, nil
	}
	existing, err := r.FindByShipment(ctx, job.ShipmentType, job.ShipmentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PrintQueueJob, error) {
	var job models.PrintQueueJob
	if err := r.base.DB(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindByShipment(ctx context.Context, shipmentType enums.ShipmentType, shipmentID uuid.UUID) (*models.PrintQueueJob, error) {
	var job models.PrintQueueJob
	err := r.base.DB(ctx).
		First(&job, "shipment_type = ? AND shipment_id = ?", shipmentType, shipmentID).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) List(ctx context.Context, status *enums.PrintJobStatus, limit, offset int) ([]models.PrintQueueJob, error) {
	q := r.base.DB(ctx).Model(&models.PrintQueueJob{}).Order("created_at ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []models.PrintQueueJob
	err := q.Find(&rows).Error
	return rows, err
}

func (r *repository) CountByStatus(ctx context.Context) (map[enums.PrintJobStatus]int64, error) {
	type row struct {
		Status enums.PrintJobStatus
		Count  int64
	}
	var rows []row
	err := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.PrintJobStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// claimOldest walks oldest-first candidates in fromStatus and takes the
// first one it wins with a conditional update. A nil job with nil error
// means the queue has nothing claimable.
func (r *repository) claimOldest(ctx context.Context, fromStatus enums.PrintJobStatus, extraCond string, updates map[string]any) (*models.PrintQueueJob, error) {
	db := r.base.DB(ctx)
	for i := 0; i < claimScanLimit; i++ {
		var candidate models.PrintQueueJob
		q := db.Where("status = ?", fromStatus)
		if extraCond != "" {
			q = q.Where(extraCond)
		}
		err := q.Order("created_at ASC").Offset(i).First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := db.Model(&models.PrintQueueJob{}).
			Where("id = ? AND status = ?", candidate.ID, fromStatus).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			return r.FindByID(ctx, candidate.ID)
		}
		// Lost the candidate to another agent; try the next one.
	}
	return nil, nil
}

func (r *repository) ClaimForDownload(ctx context.Context, agentName string, now time.Time) (*models.PrintQueueJob, error) {
	return r.claimOldest(ctx, enums.PrintJobStatusPending, "", map[string]any{
		"status":          enums.PrintJobStatusDownloading,
		"claimed_by":      agentName,
		"last_attempt_at": now,
	})
}

func (r *repository) CompleteDownload(ctx context.Context, id uuid.UUID, agentName, localPath string) (bool, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, enums.PrintJobStatusDownloading, agentName).
		Updates(map[string]any{
			"status":           enums.PrintJobStatusReady,
			"label_local_path": localPath,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimForPrint takes the oldest reviewed, downloaded job. Unreviewed
// labels never reach a printer.
func (r *repository) ClaimForPrint(ctx context.Context, agentName string, now time.Time) (*models.PrintQueueJob, error) {
	return r.claimOldest(ctx, enums.PrintJobStatusReady, "review_status = 'reviewed'", map[string]any{
		"status":          enums.PrintJobStatusPrinting,
		"claimed_by":      agentName,
		"last_attempt_at": now,
	})
}

func (r *repository) CompletePrint(ctx context.Context, id uuid.UUID, agentName string) (bool, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, enums.PrintJobStatusPrinting, agentName).
		Updates(map[string]any{
			"status":        enums.PrintJobStatusPrinted,
			"print_count":   gorm.Expr("print_count + 1"),
			"error_message": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FailJob settles an agent-reported failure: the attempt is counted and
// the agent's reason kept for the operator dashboard.
func (r *repository) FailJob(ctx context.Context, id uuid.UUID, agentName, message string) (bool, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("id = ? AND claimed_by = ? AND status IN ?", id, agentName,
			[]enums.PrintJobStatus{enums.PrintJobStatusDownloading, enums.PrintJobStatusPrinting}).
		Updates(map[string]any{
			"status":        enums.PrintJobStatusFailed,
			"error_message": message,
			"attempts":      gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkReviewed(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("id = ? AND review_status = ?", id, enums.PrintJobReviewStatusNeedsReview).
		Update("review_status", enums.PrintJobReviewStatusReviewed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Requeue returns a terminal job to pending for another print of the same
// label. The print count survives so operators can see total copies.
func (r *repository) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("id = ? AND status IN ?", id,
			[]enums.PrintJobStatus{enums.PrintJobStatusPrinted, enums.PrintJobStatusFailed}).
		Updates(map[string]any{
			"status":        enums.PrintJobStatusPending,
			"claimed_by":    nil,
			"error_message": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetForNewLabel points the job at a freshly purchased label. The local
// copy is stale, so it is cleared and the job walks the pipeline again
// from pending, back through review.
func (r *repository) ResetForNewLabel(ctx context.Context, id uuid.UUID, labelURL string) (bool, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           enums.PrintJobStatusPending,
			"review_status":    enums.PrintJobReviewStatusNeedsReview,
			"label_url":        labelURL,
			"label_local_path": nil,
			"claimed_by":       nil,
			"error_message":    nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) RecoverStuckDownloads(ctx context.Context, staleBefore time.Time) (int64, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("status = ? AND last_attempt_at < ?", enums.PrintJobStatusDownloading, staleBefore).
		Updates(map[string]any{
			"status":     enums.PrintJobStatusPending,
			"claimed_by": nil,
		})
	return res.RowsAffected, res.Error
}

// RecoverStuckPrints returns abandoned printing rows to ready, not
// pending: the label file was already downloaded.
func (r *repository) RecoverStuckPrints(ctx context.Context, staleBefore time.Time) (int64, error) {
	res := r.base.DB(ctx).Model(&models.PrintQueueJob{}).
		Where("status = ? AND last_attempt_at < ?", enums.PrintJobStatusPrinting, staleBefore).
		Updates(map[string]any{
			"status":     enums.PrintJobStatusReady,
			"claimed_by": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) UpsertAgentHeartbeat(ctx context.Context, name string, hostname, version *string, at time.Time) error {
	updates := map[string]any{"last_seen_at": at}
	if hostname != nil {
		updates["hostname"] = hostname
	}
	if version != nil {
		updates["version"] = version
	}
	return r.base.DB(ctx).Model(&models.PrintAgent{}).
		Where("name = ?", name).
		Updates(updates).Error
}

func (r *repository) CreateAgent(ctx context.Context, agent *models.PrintAgent) error {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	return r.base.DB(ctx).Create(agent).Error
}

func (r *repository) FindAgentByName(ctx context.Context, name string) (*models.PrintAgent, error) {
	var agent models.PrintAgent
	if err := r.base.DB(ctx).First(&agent, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repository) SetAgentDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	return r.base.DB(ctx).Model(&models.PrintAgent{}).
		Where("id = ?", id).
		Update("disabled", disabled).Error
}

func (r *repository) ListAgents(ctx context.Context) ([]models.PrintAgent, error) {
	var agents []models.PrintAgent
	err := r.base.DB(ctx).Order("name ASC").Find(&agents).Error
	return agents, err
}
