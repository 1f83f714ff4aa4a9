package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/rtpalette/services/palette/internal/cache"
	"example.com/rtpalette/services/palette/internal/metrics"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/repositories"
)

// DisputeService runs the dispute workflow: OPEN, ACKNOWLEDGED, then
// RESOLVED or REJECTED, then CLOSED. Opening a dispute freezes its cheque in
// LITIGE; resolution either settles the ledgers or restores the cheque.
type DisputeService struct {
	disputes  DisputeStore
	cheques   ChequeStore
	sites     SiteStore
	ledger    LedgerStore
	cache     *cache.RedisCache
	publisher EventPublisher
	metrics   *metrics.Metrics
	runTx     txRunner
}

// NewDisputeService creates a new dispute service backed by gorm repositories.
func NewDisputeService(db *gorm.DB, redisCache *cache.RedisCache, publisher EventPublisher, metricsCollector *metrics.Metrics) *DisputeService {
	return &DisputeService{
		disputes:  repositories.NewDisputeRepository(db),
		cheques:   repositories.NewChequeRepository(db),
		sites:     repositories.NewSiteRepository(db),
		ledger:    repositories.NewLedgerRepository(db),
		cache:     redisCache,
		publisher: publisher,
		metrics:   metricsCollector,
		runTx:     gormTxRunner(db),
	}
}

// OpenRequest is a claim of discrepancy against a cheque.
type OpenRequest struct {
	ChequeID         string
	ClaimantID       string
	Reason           models.DisputeReason
	Comments         string
	Photos           []string
	DisputedQuantity int
}

// Open creates a dispute and freezes the cheque in LITIGE. The cheque's
// current status is recorded so a rejected claim can restore it. A cheque
// carries at most one unresolved dispute at a time.
func (s *DisputeService) Open(ctx context.Context, req OpenRequest) (*models.Dispute, error) {
	if req.ChequeID == "" {
		return nil, validationError("chequeId is required")
	}
	if req.ClaimantID == "" {
		return nil, validationError("claimantId is required")
	}
	switch req.Reason {
	case models.DisputeQuantityMismatch, models.DisputeDamagedPallets, models.DisputeQualityClaim, models.DisputeOther:
	default:
		return nil, validationError("unknown dispute reason")
	}
	if req.Reason == models.DisputeQuantityMismatch && req.DisputedQuantity <= 0 {
		return nil, validationError("disputedQuantity is required for quantity mismatch disputes")
	}

	cheque, err := s.cheques.GetByID(ctx, DecodeQR(req.ChequeID))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrChequeNotFound
		}
		return nil, err
	}
	if !cheque.Status.CanTransitionTo(models.StatusLitige) {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot dispute a cheque in status %s", cheque.Status)
	}

	now := time.Now().UTC()
	photos := make(models.PhotoList, 0, len(req.Photos))
	for _, url := range req.Photos {
		photos = append(photos, models.Photo{Type: "DISPUTE", URL: url, At: now})
	}

	dispute := &models.Dispute{
		ID:                newDisputeID(),
		ChequeID:          cheque.ID,
		ClaimantID:        req.ClaimantID,
		Reason:            req.Reason,
		Photos:            photos,
		Comments:          req.Comments,
		Status:            models.DisputeOpen,
		PriorChequeStatus: cheque.Status,
		DisputedQuantity:  req.DisputedQuantity,
	}

	err = s.runTx(ctx, func(tx *gorm.DB) error {
		open, err := s.disputes.HasOpenTx(tx, cheque.ID)
		if err != nil {
			return err
		}
		if open {
			return ErrDuplicateOpenDispute
		}

		swapped, err := s.cheques.TransitionTx(tx, cheque.ID, cheque.Status, models.StatusLitige, nil)
		if err != nil {
			return err
		}
		if !swapped {
			return errors.Wrap(ErrStatusConflict, "cheque moved while opening dispute")
		}
		return s.disputes.CreateTx(tx, dispute)
	})
	if err != nil {
		return nil, err
	}

	s.count("disputes_opened")
	log.Info().
		Str("dispute_id", dispute.ID).
		Str("cheque_id", cheque.ID).
		Str("reason", string(dispute.Reason)).
		Str("prior_status", string(dispute.PriorChequeStatus)).
		Msg("Dispute opened")
	s.invalidateCheque(ctx, cheque.ID)
	s.publish(ctx, "palette.dispute.opened", dispute)

	return dispute, nil
}

// Acknowledge marks a dispute as under review.
func (s *DisputeService) Acknowledge(ctx context.Context, disputeID string) (*models.Dispute, error) {
	dispute, err := s.get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.CanTransitionTo(models.DisputeAcknowledged) {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot acknowledge a dispute in status %s", dispute.Status)
	}

	swapped, err := s.disputes.Transition(ctx, dispute.ID, dispute.Status, models.DisputeAcknowledged, nil)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errors.Wrap(ErrStatusConflict, "dispute moved during acknowledge")
	}
	return s.get(ctx, disputeID)
}

// ResolveRequest is a back-office ruling on a dispute.
type ResolveRequest struct {
	Upheld     bool
	Resolution string
}

// Resolve rules on a dispute. An upheld quantity claim appends compensating
// ledger entries reversing the disputed amount; the cheque stays LITIGE as
// the audit record. A rejected claim restores the cheque to the status it
// held before the dispute.
func (s *DisputeService) Resolve(ctx context.Context, disputeID string, req ResolveRequest) (*models.Dispute, error) {
	if req.Resolution == "" {
		return nil, validationError("resolution is required")
	}

	dispute, err := s.get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	next := models.DisputeRejected
	if req.Upheld {
		next = models.DisputeResolved
	}
	if !dispute.Status.CanTransitionTo(next) {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot resolve a dispute in status %s", dispute.Status)
	}

	cheque, err := s.cheques.GetByID(ctx, dispute.ChequeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrChequeNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"resolution":  req.Resolution,
		"resolved_at": now,
	}

	var origin, destination string
	diff := 0
	if req.Upheld && dispute.Reason == models.DisputeQuantityMismatch {
		settled := cheque.Quantity
		if cheque.QuantityReceived != nil {
			settled = *cheque.QuantityReceived
		}
		diff = settled - dispute.DisputedQuantity
		if diff != 0 {
			site, err := s.sites.GetByID(ctx, cheque.ToSiteID)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return nil, ErrSiteNotFound
				}
				return nil, err
			}
			origin = cheque.FromCompanyID
			destination = site.CompanyID
		}
	}

	err = s.runTx(ctx, func(tx *gorm.DB) error {
		swapped, err := s.disputes.TransitionTx(tx, dispute.ID, dispute.Status, next, updates)
		if err != nil {
			return err
		}
		if !swapped {
			return errors.Wrap(ErrStatusConflict, "dispute moved during resolve")
		}

		if !req.Upheld {
			// Rejected claim: the dispute was unfounded, put the cheque
			// back where it was.
			restored, err := s.cheques.TransitionTx(tx, cheque.ID, models.StatusLitige, dispute.PriorChequeStatus, nil)
			if err != nil {
				return err
			}
			if !restored {
				return errors.Wrap(ErrStatusConflict, "cheque moved during dispute rejection")
			}
			return nil
		}

		if diff != 0 {
			// Settlement moved diff pallets too many: reverse it on both
			// ledgers so conservation holds.
			chequeRef := cheque.ID
			if _, err := s.ledger.AppendTx(tx, origin, diff, models.ReasonDisputeAdjustment, &chequeRef); err != nil {
				return err
			}
			if _, err := s.ledger.AppendTx(tx, destination, -diff, models.ReasonDisputeAdjustment, &chequeRef); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("dispute_id", dispute.ID).
		Str("cheque_id", cheque.ID).
		Bool("upheld", req.Upheld).
		Int("adjustment", diff).
		Msg("Dispute resolved")
	s.invalidateCheque(ctx, cheque.ID)
	if diff != 0 {
		s.invalidateLedgers(ctx, origin, destination)
	}

	resolved, err := s.get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "palette.dispute.resolved", resolved)
	return resolved, nil
}

// Close archives a resolved or rejected dispute.
func (s *DisputeService) Close(ctx context.Context, disputeID string) (*models.Dispute, error) {
	dispute, err := s.get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.CanTransitionTo(models.DisputeClosed) {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot close a dispute in status %s", dispute.Status)
	}

	swapped, err := s.disputes.Transition(ctx, dispute.ID, dispute.Status, models.DisputeClosed, nil)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errors.Wrap(ErrStatusConflict, "dispute moved during close")
	}
	return s.get(ctx, disputeID)
}

// Get returns one dispute.
func (s *DisputeService) Get(ctx context.Context, disputeID string) (*models.Dispute, error) {
	return s.get(ctx, disputeID)
}

// List returns disputes, optionally filtered by cheque.
func (s *DisputeService) List(ctx context.Context, chequeID string) ([]models.Dispute, error) {
	return s.disputes.List(ctx, DecodeQR(chequeID))
}

func (s *DisputeService) get(ctx context.Context, disputeID string) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

func (s *DisputeService) invalidateCheque(ctx context.Context, chequeID string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Delete(ctx, cache.GetChequeCacheKey(chequeID)); err != nil {
		log.Warn().Err(err).Str("cheque_id", chequeID).Msg("Failed to invalidate cheque cache")
	}
}

func (s *DisputeService) invalidateLedgers(ctx context.Context, companyIDs ...string) {
	if !s.cache.Enabled() {
		return
	}
	keys := make([]string, 0, len(companyIDs))
	for _, id := range companyIDs {
		keys = append(keys, cache.GetLedgerCacheKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate ledger cache")
	}
}

func (s *DisputeService) publish(ctx context.Context, eventType string, dispute *models.Dispute) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, dispute); err != nil {
		log.Warn().Err(err).Str("dispute_id", dispute.ID).Str("event", eventType).Msg("Failed to publish dispute event")
	}
}

func (s *DisputeService) count(name string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(name)
	}
}

func newDisputeID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("DISP-%d-%s", time.Now().UnixMilli(), suffix)
}
