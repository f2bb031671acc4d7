package service

import (
	"context"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"
	"sentimatrix-automation/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// webhookService implements ports.WebhookService.
type webhookService struct {
	webhooks   ports.WebhookRepository
	deliveries ports.DeliveryRepository
	encSvc     ports.EncryptionService
	filters    *FilterEvaluator
	dispatcher *Dispatcher
	log        zerolog.Logger
	now        func() time.Time
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(
	webhooks ports.WebhookRepository,
	deliveries ports.DeliveryRepository,
	encSvc ports.EncryptionService,
	filters *FilterEvaluator,
	dispatcher *Dispatcher,
	log zerolog.Logger,
) ports.WebhookService {
	if filters == nil {
		filters = NewFilterEvaluator()
	}
	return &webhookService{
		webhooks:   webhooks,
		deliveries: deliveries,
		encSvc:     encSvc,
		filters:    filters,
		dispatcher: dispatcher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *webhookService) Create(ctx context.Context, userID string, in ports.WebhookInput) (*domain.Webhook, error) {
	now := s.now()
	w := &domain.Webhook{
		ID:        uuid.New(),
		UserID:    userID,
		ProjectID: in.ProjectID,
		URL:       in.URL,
		Events:    in.Events,
		Headers:   in.Headers,
		Filter:    in.Filter,
		Enabled:   in.Enabled == nil || *in.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.setSecret(w, in.Secret); err != nil {
		return nil, err
	}
	if err := s.validate(w); err != nil {
		return nil, err
	}

	if err := s.webhooks.Create(ctx, w); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("webhook_id", w.ID.String()).
		Strs("events", w.Events).
		Bool("global", w.ProjectID == nil).
		Msg("webhook created")
	return w, nil
}

func (s *webhookService) Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Webhook, error) {
	return s.load(ctx, userID, id)
}

func (s *webhookService) List(ctx context.Context, userID string, projectID *string) ([]domain.Webhook, error) {
	list, err := s.webhooks.ListByUser(ctx, userID, projectID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return list, nil
}

func (s *webhookService) Update(ctx context.Context, userID string, id uuid.UUID, in ports.WebhookUpdate) (*domain.Webhook, error) {
	w, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		w.URL = *in.URL
	}
	if in.Events != nil {
		w.Events = in.Events
	}
	if in.Headers != nil {
		w.Headers = in.Headers
	}
	if in.Filter != nil {
		w.Filter = in.Filter
		if *in.Filter == "" {
			w.Filter = nil
		}
	}
	if in.Secret != nil {
		if err := s.setSecret(w, in.Secret); err != nil {
			return nil, err
		}
	}
	if err := s.validate(w); err != nil {
		return nil, err
	}
	w.UpdatedAt = s.now()

	if err := s.webhooks.Update(ctx, w); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if in.Enabled != nil && *in.Enabled != w.Enabled {
		return s.SetEnabled(ctx, userID, id, *in.Enabled)
	}
	return w, nil
}

func (s *webhookService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := s.load(ctx, userID, id); err != nil {
		return err
	}
	if err := s.webhooks.Delete(ctx, id); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	s.log.Info().Str("webhook_id", id.String()).Msg("webhook deleted")
	return nil
}

// SetEnabled toggles a webhook. Re-enabling resets its failure counter.
func (s *webhookService) SetEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) (*domain.Webhook, error) {
	if _, err := s.load(ctx, userID, id); err != nil {
		return nil, err
	}
	if err := s.webhooks.SetEnabled(ctx, id, enabled); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	s.log.Info().Str("webhook_id", id.String()).Bool("enabled", enabled).Msg("webhook toggled")
	return s.load(ctx, userID, id)
}

func (s *webhookService) Test(ctx context.Context, userID string, id uuid.UUID) (*ports.WebhookTestResult, error) {
	w, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Test(ctx, w), nil
}

func (s *webhookService) ListDeliveries(ctx context.Context, userID string, id uuid.UUID, page ports.PageParams) ([]domain.Delivery, int64, error) {
	if _, err := s.load(ctx, userID, id); err != nil {
		return nil, 0, err
	}
	list, total, err := s.deliveries.ListByWebhook(ctx, id, page.Normalize())
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return list, total, nil
}

func (s *webhookService) GetDelivery(ctx context.Context, userID string, id, deliveryID uuid.UUID) (*ports.DeliveryDetail, error) {
	d, err := s.loadDelivery(ctx, userID, id, deliveryID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.deliveries.ListAttempts(ctx, deliveryID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return &ports.DeliveryDetail{Delivery: d, Attempts: attempts}, nil
}

// RetryDelivery reopens a failed delivery and runs the first attempt of its
// new sequence before returning. Attempt numbering continues from the
// previous sequence.
func (s *webhookService) RetryDelivery(ctx context.Context, userID string, id, deliveryID uuid.UUID) (*domain.Delivery, error) {
	w, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	d, err := s.loadDelivery(ctx, userID, id, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DeliveryStatusFailed || !w.Enabled {
		return nil, apperror.ErrDeliveryNotRetryable()
	}

	attempt := d.Attempts + 1
	now := s.now()
	ok, err := s.deliveries.Restart(ctx, deliveryID, attempt, now)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !ok {
		return nil, apperror.ErrDeliveryNotRetryable()
	}

	s.log.Info().Str("delivery_id", deliveryID.String()).Int("attempt", attempt).Msg("manual delivery retry")
	task := ports.RetryTask{DeliveryID: deliveryID, Attempt: attempt, DueAt: now}
	if err := s.dispatcher.Retry(ctx, task); err != nil {
		return nil, apperror.InternalError(err)
	}

	d, err = s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return d, nil
}

func (s *webhookService) load(ctx context.Context, userID string, id uuid.UUID) (*domain.Webhook, error) {
	w, err := s.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if w == nil || w.UserID != userID {
		return nil, apperror.ErrWebhookNotFound()
	}
	return w, nil
}

func (s *webhookService) loadDelivery(ctx context.Context, userID string, id, deliveryID uuid.UUID) (*domain.Delivery, error) {
	if _, err := s.load(ctx, userID, id); err != nil {
		return nil, err
	}
	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if d == nil || d.WebhookID != id {
		return nil, apperror.ErrDeliveryNotFound()
	}
	return d, nil
}

// setSecret encrypts a new signing secret. An empty secret turns signing off.
func (s *webhookService) setSecret(w *domain.Webhook, secret *string) error {
	if secret == nil || *secret == "" {
		w.SecretEnc = ""
		return nil
	}
	enc, err := s.encSvc.Encrypt(*secret)
	if err != nil {
		return apperror.ErrEncryptionFailure(err)
	}
	w.SecretEnc = enc
	return nil
}

func (s *webhookService) validate(w *domain.Webhook) error {
	if err := w.Validate(); err != nil {
		return apperror.ErrInvalidWebhook(err.Error())
	}
	if w.Filter != nil && *w.Filter != "" {
		if _, err := s.filters.Compile(*w.Filter); err != nil {
			return apperror.ErrInvalidWebhook(err.Error())
		}
	}
	return nil
}
