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
	"example.com/rtpalette/services/palette/internal/geo"
	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/metrics"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/repositories"
)

// DefaultTruckCapacity bounds the quantity of a single cheque.
const DefaultTruckCapacity = 33

// ChequeService drives the cheque state machine: generate, deposit, receive.
// Every transition is a single compare-and-swap on status, so concurrent
// retries cannot double-execute side effects.
type ChequeService struct {
	cheques       ChequeStore
	sites         SiteStore
	quotas        QuotaStore
	ledger        LedgerStore
	matcher       Matcher
	signer        *Signer
	cache         *cache.RedisCache
	publisher     EventPublisher
	indexer       ChequeIndexer
	metrics       *metrics.Metrics
	runTx         txRunner
	truckCapacity int
}

// NewChequeService creates a new cheque service backed by gorm repositories.
func NewChequeService(
	db *gorm.DB,
	matcher Matcher,
	signer *Signer,
	redisCache *cache.RedisCache,
	publisher EventPublisher,
	indexer ChequeIndexer,
	metricsCollector *metrics.Metrics,
	truckCapacity int,
) *ChequeService {
	if truckCapacity <= 0 {
		truckCapacity = DefaultTruckCapacity
	}
	return &ChequeService{
		cheques:       repositories.NewChequeRepository(db),
		sites:         repositories.NewSiteRepository(db),
		quotas:        repositories.NewQuotaRepository(db),
		ledger:        repositories.NewLedgerRepository(db),
		matcher:       matcher,
		signer:        signer,
		cache:         redisCache,
		publisher:     publisher,
		indexer:       indexer,
		metrics:       metricsCollector,
		runTx:         gormTxRunner(db),
		truckCapacity: truckCapacity,
	}
}

// GenerateRequest is a request to mint a new cheque.
type GenerateRequest struct {
	OrderID          string
	FromCompanyID    string
	Quantity         int
	TransporterPlate string
	DeliveryLocation *models.GeoPoint
	IdempotencyKey   *uuid.UUID
}

// GenerateResult is a minted (or replayed) cheque with its matched site.
type GenerateResult struct {
	Cheque       *models.Cheque
	MatchedSite  matching.Candidate
	Alternatives []matching.Candidate
	Replayed     bool
}

// Generate validates the request, matches and reserves a return site, and
// persists the cheque in EMIS.
func (s *ChequeService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := s.validateGenerate(req); err != nil {
		return nil, err
	}

	// Replayed requests return the already-minted cheque without
	// re-executing any side effect.
	if req.IdempotencyKey != nil {
		existing, err := s.cheques.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err == nil {
			return s.replayedGenerate(ctx, existing, req)
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
	}

	match, err := s.matcher.MatchAndReserve(ctx, matching.MatchRequest{
		Location:  *req.DeliveryLocation,
		CompanyID: req.FromCompanyID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		return nil, err
	}

	cheque := &models.Cheque{
		ID:               newChequeID(),
		OrderID:          req.OrderID,
		FromCompanyID:    req.FromCompanyID,
		ToSiteID:         match.Best.SiteID,
		Quantity:         req.Quantity,
		PalletType:       "EURO_EPAL",
		TransporterPlate: req.TransporterPlate,
		Status:           models.StatusEmis,
		IdempotencyKey:   req.IdempotencyKey,
		Photos:           models.PhotoList{},
	}
	cheque.QRCode = EncodeQR(cheque.ID)
	cheque.CryptoSignature = s.signer.Sign(cheque)

	if err := s.cheques.Create(ctx, cheque); err != nil {
		// Roll the tentative reservation back before reporting failure.
		if relErr := s.quotas.Release(ctx, match.Best.SiteID); relErr != nil {
			log.Error().Err(relErr).Str("site_id", match.Best.SiteID).Msg("Failed to release quota after create failure")
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) && req.IdempotencyKey != nil {
			// Lost the insert race against a concurrent replay of the
			// same request.
			existing, getErr := s.cheques.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
			if getErr == nil {
				return s.replayedGenerate(ctx, existing, req)
			}
		}
		return nil, err
	}

	s.count("cheques_generated")
	log.Info().
		Str("cheque_id", cheque.ID).
		Str("order_id", cheque.OrderID).
		Str("site_id", cheque.ToSiteID).
		Int("quantity", cheque.Quantity).
		Float64("distance_km", match.Best.Distance).
		Msg("Cheque generated")

	s.afterCommit(ctx, "palette.cheque.generated", cheque)

	return &GenerateResult{
		Cheque:       cheque,
		MatchedSite:  match.Best,
		Alternatives: match.Alternatives,
	}, nil
}

func (s *ChequeService) validateGenerate(req GenerateRequest) error {
	if req.FromCompanyID == "" {
		return validationError("fromCompanyId is required")
	}
	if req.OrderID == "" {
		return validationError("orderId is required")
	}
	if req.Quantity <= 0 {
		return validationError("quantity must be positive")
	}
	if req.Quantity > s.truckCapacity {
		return validationError(fmt.Sprintf("quantity exceeds truck capacity of %d", s.truckCapacity))
	}
	if req.DeliveryLocation == nil {
		return validationError("deliveryLocation is required")
	}
	return nil
}

func (s *ChequeService) replayedGenerate(ctx context.Context, cheque *models.Cheque, req GenerateRequest) (*GenerateResult, error) {
	candidate, err := s.siteCandidate(ctx, cheque.ToSiteID, req.DeliveryLocation)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Cheque: cheque, MatchedSite: candidate, Replayed: true}, nil
}

// DepositRequest is a transporter's deposit scan.
type DepositRequest struct {
	TransporterSignature string
	Geolocation          *models.GeoPoint
	Photo                string
}

// TransitionResult is a completed deposit or receive.
type TransitionResult struct {
	Cheque           *models.Cheque
	QuantityMismatch bool
	Replayed         bool
}

// Deposit moves an EMIS cheque to DEPOSE, recording the transporter's
// signature and location exactly once.
func (s *ChequeService) Deposit(ctx context.Context, chequeID string, req DepositRequest) (*TransitionResult, error) {
	if req.TransporterSignature == "" {
		return nil, validationError("transporterSignature is required")
	}
	if req.Geolocation == nil {
		return nil, validationError("geolocation is required")
	}

	cheque, err := s.getVerified(ctx, chequeID)
	if err != nil {
		return nil, err
	}

	if replay := s.depositReplay(cheque, req); replay != nil {
		return replay, nil
	}
	if !cheque.Status.CanTransitionTo(models.StatusDepose) {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot deposit a cheque in status %s", cheque.Status)
	}

	now := time.Now().UTC()
	swapped, err := s.cheques.Transition(ctx, cheque.ID, models.StatusEmis, models.StatusDepose, map[string]interface{}{
		"transporter_signature": req.TransporterSignature,
		"deposit_location":      *req.Geolocation,
		"deposited_at":          now,
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		// The cheque moved since we read it. Re-fetch to distinguish a
		// replayed retry from a genuine conflict.
		current, getErr := s.getVerified(ctx, chequeID)
		if getErr != nil {
			return nil, getErr
		}
		if replay := s.depositReplay(current, req); replay != nil {
			return replay, nil
		}
		return nil, errors.Wrapf(ErrStatusConflict, "cheque moved to %s during deposit", current.Status)
	}

	s.appendEvidence(ctx, cheque.ID, "DEPOSIT", req.Photo)

	// Re-fetch by the decoded ID: chequeID may be the scanned QR token.
	updated, err := s.cheques.GetByID(ctx, cheque.ID)
	if err != nil {
		return nil, err
	}

	s.count("cheques_deposited")
	log.Info().Str("cheque_id", cheque.ID).Msg("Cheque deposited")
	s.afterCommit(ctx, "palette.cheque.deposited", updated)

	return &TransitionResult{Cheque: updated}, nil
}

func (s *ChequeService) depositReplay(cheque *models.Cheque, req DepositRequest) *TransitionResult {
	if cheque.Status == models.StatusDepose &&
		cheque.TransporterSignature != nil &&
		*cheque.TransporterSignature == req.TransporterSignature {
		return &TransitionResult{Cheque: cheque, Replayed: true}
	}
	return nil
}

// ReceiveRequest is a logistician's reception scan.
type ReceiveRequest struct {
	ReceiverSignature string
	Geolocation       *models.GeoPoint
	Photo             string
	QuantityReceived  *int
}

// Receive moves a DEPOSE cheque to RECU and settles the pallet ledgers: the
// issuing company is debited and the destination site's owner credited by the
// counted quantity, in the same transaction as the status swap.
func (s *ChequeService) Receive(ctx context.Context, chequeID string, req ReceiveRequest) (*TransitionResult, error) {
	if req.ReceiverSignature == "" {
		return nil, validationError("receiverSignature is required")
	}
	if req.Geolocation == nil {
		return nil, validationError("geolocation is required")
	}
	if req.QuantityReceived != nil && *req.QuantityReceived < 0 {
		return nil, validationError("quantityReceived cannot be negative")
	}

	cheque, err := s.getVerified(ctx, chequeID)
	if err != nil {
		return nil, err
	}

	if replay := s.receiveReplay(cheque, req); replay != nil {
		return replay, nil
	}
	if !cheque.Status.CanTransitionTo(models.StatusRecu) {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot receive a cheque in status %s", cheque.Status)
	}

	site, err := s.sites.GetByID(ctx, cheque.ToSiteID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}

	quantity := cheque.Quantity
	if req.QuantityReceived != nil {
		quantity = *req.QuantityReceived
	}
	now := time.Now().UTC()

	lostRace := false
	err = s.runTx(ctx, func(tx *gorm.DB) error {
		swapped, err := s.cheques.TransitionTx(tx, cheque.ID, models.StatusDepose, models.StatusRecu, map[string]interface{}{
			"receiver_signature": req.ReceiverSignature,
			"receipt_location":   *req.Geolocation,
			"received_at":        now,
			"quantity_received":  quantity,
		})
		if err != nil {
			return err
		}
		if !swapped {
			lostRace = true
			return errors.Wrap(ErrStatusConflict, "cheque receive lost compare-and-swap")
		}

		chequeRef := cheque.ID
		if _, err := s.ledger.AppendTx(tx, cheque.FromCompanyID, -quantity, models.ReasonChequeReceived, &chequeRef); err != nil {
			return err
		}
		if _, err := s.ledger.AppendTx(tx, site.CompanyID, quantity, models.ReasonChequeReceived, &chequeRef); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if lostRace {
			current, getErr := s.getVerified(ctx, chequeID)
			if getErr != nil {
				return nil, getErr
			}
			if replay := s.receiveReplay(current, req); replay != nil {
				return replay, nil
			}
			return nil, errors.Wrapf(ErrStatusConflict, "cheque moved to %s during receive", current.Status)
		}
		return nil, err
	}

	s.appendEvidence(ctx, cheque.ID, "RECEIPT", req.Photo)
	s.invalidateLedgers(ctx, cheque.FromCompanyID, site.CompanyID)

	// Re-fetch by the decoded ID: chequeID may be the scanned QR token.
	updated, err := s.cheques.GetByID(ctx, cheque.ID)
	if err != nil {
		return nil, err
	}

	mismatch := quantity != cheque.Quantity
	s.count("cheques_received")
	if mismatch {
		s.count("quantity_mismatches")
	}
	log.Info().
		Str("cheque_id", cheque.ID).
		Int("quantity_received", quantity).
		Bool("quantity_mismatch", mismatch).
		Msg("Cheque received")
	s.afterCommit(ctx, "palette.cheque.received", updated)

	return &TransitionResult{Cheque: updated, QuantityMismatch: mismatch}, nil
}

func (s *ChequeService) receiveReplay(cheque *models.Cheque, req ReceiveRequest) *TransitionResult {
	if cheque.Status == models.StatusRecu &&
		cheque.ReceiverSignature != nil &&
		*cheque.ReceiverSignature == req.ReceiverSignature {
		mismatch := cheque.QuantityReceived != nil && *cheque.QuantityReceived != cheque.Quantity
		return &TransitionResult{Cheque: cheque, QuantityMismatch: mismatch, Replayed: true}
	}
	return nil
}

// Get returns a cheque by ID or scanned QR token.
func (s *ChequeService) Get(ctx context.Context, idOrToken string) (*models.Cheque, error) {
	id := DecodeQR(idOrToken)

	if s.cache.Enabled() {
		var cached models.Cheque
		if err := s.cache.Get(ctx, cache.GetChequeCacheKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	cheque, err := s.cheques.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrChequeNotFound
		}
		return nil, err
	}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cache.GetChequeCacheKey(id), cheque, time.Minute); err != nil {
			log.Warn().Err(err).Str("cheque_id", id).Msg("Failed to cache cheque")
		}
	}
	return cheque, nil
}

// getVerified fetches a cheque and verifies its crypto signature before any
// transition trusts it.
func (s *ChequeService) getVerified(ctx context.Context, idOrToken string) (*models.Cheque, error) {
	id := DecodeQR(idOrToken)
	cheque, err := s.cheques.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrChequeNotFound
		}
		return nil, err
	}
	if !s.signer.Verify(cheque) {
		s.count("signature_failures")
		log.Error().Str("cheque_id", cheque.ID).Msg("Cheque failed signature verification, flagged for manual review")
		return nil, ErrSignatureMismatch
	}
	return cheque, nil
}

// appendEvidence stores an optional photo outside the transition's
// consistency boundary.
func (s *ChequeService) appendEvidence(ctx context.Context, chequeID, photoType, url string) {
	if url == "" {
		return
	}
	photo := models.Photo{Type: photoType, URL: url, At: time.Now().UTC()}
	if err := s.cheques.AppendPhoto(ctx, chequeID, photo); err != nil {
		log.Warn().Err(err).Str("cheque_id", chequeID).Msg("Failed to append evidence photo")
	}
}

// afterCommit runs the non-authoritative side effects of a committed
// transition: cache invalidation, event publication, search indexing. None of
// them can fail the transition.
func (s *ChequeService) afterCommit(ctx context.Context, eventType string, cheque *models.Cheque) {
	if s.cache.Enabled() {
		if err := s.cache.Delete(ctx, cache.GetChequeCacheKey(cheque.ID)); err != nil {
			log.Warn().Err(err).Str("cheque_id", cheque.ID).Msg("Failed to invalidate cheque cache")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, eventType, cheque); err != nil {
			log.Warn().Err(err).Str("cheque_id", cheque.ID).Str("event", eventType).Msg("Failed to publish cheque event")
		}
	}
	if s.indexer != nil {
		if err := s.indexer.IndexCheque(ctx, cheque); err != nil {
			log.Warn().Err(err).Str("cheque_id", cheque.ID).Msg("Failed to index cheque")
		}
	}
}

func (s *ChequeService) invalidateLedgers(ctx context.Context, companyIDs ...string) {
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

func (s *ChequeService) siteCandidate(ctx context.Context, siteID string, location *models.GeoPoint) (matching.Candidate, error) {
	site, err := s.sites.GetByID(ctx, siteID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return matching.Candidate{}, ErrSiteNotFound
		}
		return matching.Candidate{}, err
	}
	candidate := matching.Candidate{Site: *site, SiteID: site.ID}
	if location != nil {
		candidate.Distance = geo.Distance(
			geo.Point{Lat: location.Lat, Lng: location.Lng},
			geo.Point{Lat: site.GPS.Lat, Lng: site.GPS.Lng},
		)
	}
	if quota, err := s.quotas.Get(ctx, siteID); err == nil {
		candidate.Priority = quota.Priority
		candidate.QuotaRemaining = quota.DailyMax - quota.Consumed
	}
	return candidate, nil
}

func (s *ChequeService) count(name string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(name)
	}
}

func newChequeID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("CHQ-%d-%s", time.Now().UnixMilli(), suffix)
}
