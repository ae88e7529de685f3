package bookings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/calendar"
	"github.com/turnia/turnia-platform/internal/catalog"
	"github.com/turnia/turnia-platform/internal/notify"
	"github.com/turnia/turnia-platform/internal/observability/metrics"
	"github.com/turnia/turnia-platform/internal/payments"
	"github.com/turnia/turnia-platform/internal/professionals"
	"github.com/turnia/turnia-platform/pkg/logging"
)

var (
	ErrRateLimited = errors.New("bookings: too many booking attempts")
	ErrUpstream    = errors.New("bookings: payment provider unavailable")
)

type professionalDirectory interface {
	GetBySlug(ctx context.Context, slug string) (*professionals.Professional, error)
	GetByID(ctx context.Context, id uuid.UUID) (*professionals.Professional, error)
}

type eventCatalog interface {
	GetEventType(ctx context.Context, id uuid.UUID) (*catalog.EventType, error)
}

type bookingStore interface {
	Insert(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	FindByPaymentID(ctx context.Context, mpPaymentID string) (*Booking, error)
	MarkPaid(ctx context.Context, id uuid.UUID, mpPaymentID string, paidAt time.Time) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, calendarEventID, meetingLink string, confirmedAt time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	SetTransferProof(ctx context.Context, id uuid.UUID, url string) error
}

type paymentClient interface {
	CreatePreference(ctx context.Context, accessToken string, req payments.PreferenceRequest) (*payments.Preference, error)
	GetPayment(ctx context.Context, accessToken, paymentID string) (*payments.Payment, error)
}

type notifier interface {
	SendBookingConfirmation(ctx context.Context, b notify.BookingEmail) error
	SendNewBookingNotification(ctx context.Context, b notify.BookingEmail) error
	SendBookingCancellation(ctx context.Context, b notify.BookingEmail) error
	SendComprobanteNotification(ctx context.Context, b notify.BookingEmail) error
}

type attemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Service drives the booking lifecycle. Calendar materialization and email
// failures never roll back a payment transition: money already captured
// outranks a missing calendar entry.
type Service struct {
	directory professionalDirectory
	catalog   eventCatalog
	store     bookingStore
	cal       calendar.Adapter
	pay       paymentClient
	mail      notifier
	signer    *ActionSigner
	limiter   attemptLimiter
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time

	publicBaseURL string
	platformToken string
}

// ServiceConfig wires the service collaborators.
type ServiceConfig struct {
	Directory     professionalDirectory
	Catalog       eventCatalog
	Store         bookingStore
	Calendar      calendar.Adapter
	Payments      paymentClient
	Notifier      notifier
	Signer        *ActionSigner
	Limiter       attemptLimiter
	Metrics       *metrics.BookingMetrics
	Logger        *logging.Logger
	PublicBaseURL string
	PlatformToken string
}

// NewService builds the lifecycle service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		directory:     cfg.Directory,
		catalog:       cfg.Catalog,
		store:         cfg.Store,
		cal:           cfg.Calendar,
		pay:           cfg.Payments,
		mail:          cfg.Notifier,
		signer:        cfg.Signer,
		limiter:       cfg.Limiter,
		metrics:       cfg.Metrics,
		logger:        logger,
		now:           time.Now,
		publicBaseURL: cfg.PublicBaseURL,
		platformToken: cfg.PlatformToken,
	}
}

// WithClock overrides the time source. Test use only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateResult is returned to the patient after a successful creation.
type CreateResult struct {
	Booking      *Booking
	PreferenceID string
	InitPoint    string
	Transfer     *professionals.TransferDetails
}

// Create validates and persists a new booking in pending_payment, returning
// the payment-method-specific next action.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	prof, err := s.directory.GetBySlug(ctx, req.ProfessionalSlug)
	if err != nil {
		if errors.Is(err, professionals.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: load professional: %w", err)
	}
	if !prof.Active {
		return nil, ErrNotFound
	}

	event, err := s.catalog.GetEventType(ctx, req.EventTypeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: load event type: %w", err)
	}
	if !event.Active || event.ProfessionalID != prof.ID {
		return nil, ErrNotFound
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, req.PatientEmail)
		if err != nil {
			// A broken limiter never blocks legitimate patients.
			s.logger.Warn("booking limiter unavailable", "error", err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	eventID := event.ID
	booking := &Booking{
		ProfessionalID: prof.ID,
		EventTypeID:    &eventID,
		EventName:      event.Name,
		DurationMin:    event.DurationMin,
		Virtual:        event.Modality == catalog.ModalityVirtual,
		PatientName:    req.PatientName,
		PatientEmail:   req.PatientEmail,
		PatientPhone:   req.PatientPhone,
		Notes:          req.Notes,
		Start:          req.Start,
		AmountCents:    event.PriceCents,
		PaymentMethod:  prof.PaymentMethod,
	}
	if err := s.store.Insert(ctx, booking); err != nil {
		return nil, err
	}
	s.metrics.ObserveCreated(string(prof.PaymentMethod))
	s.logger.Info("booking created",
		"booking_id", booking.ID, "professional", prof.Slug, "start", booking.Start)

	result := &CreateResult{Booking: booking}
	switch prof.PaymentMethod {
	case professionals.PaymentBankTransfer:
		transfer := prof.Transfer
		result.Transfer = &transfer
	default:
		pref, err := s.createPreference(ctx, prof, booking)
		if err != nil {
			s.logger.Error("preference creation failed", "error", err, "booking_id", booking.ID)
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		result.PreferenceID = pref.ID
		result.InitPoint = pref.InitPoint
	}
	return result, nil
}

func (s *Service) createPreference(ctx context.Context, prof *professionals.Professional, b *Booking) (*payments.Preference, error) {
	token := prof.MPAccessToken
	if token == "" {
		token = s.platformToken
	}
	if token == "" {
		return nil, errors.New("bookings: no payment credentials configured")
	}
	notification := ""
	if s.publicBaseURL != "" {
		notification = fmt.Sprintf("%s/webhooks/mercadopago?bookingId=%s", s.publicBaseURL, b.ID)
	}
	req := payments.PreferenceRequest{
		Items: []payments.PreferenceItem{{
			Title:      fmt.Sprintf("%s — %s", b.EventName, prof.Name),
			Quantity:   1,
			UnitPrice:  float64(b.AmountCents) / 100,
			CurrencyID: "ARS",
		}},
		Payer: payments.PreferencePayer{
			Name:  b.PatientName,
			Email: b.PatientEmail,
		},
		BackURLs: payments.BackURLs{
			Success: fmt.Sprintf("%s/%s/pago?estado=exito&bookingId=%s", s.publicBaseURL, prof.Slug, b.ID),
			Pending: fmt.Sprintf("%s/%s/pago?estado=pendiente&bookingId=%s", s.publicBaseURL, prof.Slug, b.ID),
			Failure: fmt.Sprintf("%s/%s/pago?estado=error&bookingId=%s", s.publicBaseURL, prof.Slug, b.ID),
		},
		AutoReturn:        "approved",
		NotificationURL:   notification,
		ExternalReference: b.ID.String(),
	}
	return s.pay.CreatePreference(ctx, token, req)
}

// ApplyPaymentNotification resolves the booking behind a provider payment id
// and applies the provider-verified status. Idempotent: a repeated payment id
// or an already-terminal booking is a no-op.
func (s *Service) ApplyPaymentNotification(ctx context.Context, bookingID uuid.UUID, paymentID string) error {
	booking, err := s.resolveBooking(ctx, bookingID, paymentID)
	if err != nil {
		return err
	}
	if booking.State.Terminal() {
		s.logger.Info("webhook for terminal booking ignored",
			"booking_id", booking.ID, "state", booking.State, "payment_id", paymentID)
		return nil
	}
	if booking.MPPaymentID == paymentID && booking.State == StatePaid {
		// Redelivery of an already-applied approval while the booking
		// awaits manual confirmation.
		return nil
	}

	prof, err := s.directory.GetByID(ctx, booking.ProfessionalID)
	if err != nil {
		return fmt.Errorf("bookings: load professional: %w", err)
	}
	token := prof.MPAccessToken
	if token == "" {
		token = s.platformToken
	}

	// Never trust webhook-reported status; always fetch server-side.
	payment, err := s.pay.GetPayment(ctx, token, paymentID)
	if err != nil {
		return fmt.Errorf("bookings: fetch payment: %w", err)
	}
	if payment.ExternalReference != "" && payment.ExternalReference != booking.ID.String() {
		return fmt.Errorf("bookings: payment %s references %q, not booking %s",
			paymentID, payment.ExternalReference, booking.ID)
	}

	s.metrics.ObserveWebhook(string(payment.Status))
	switch payment.Status {
	case payments.StatusApproved:
		return s.applyApproval(ctx, booking, prof, paymentID)
	case payments.StatusRejected, payments.StatusCancelled, payments.StatusRefunded:
		return s.cancel(ctx, booking, prof)
	default:
		// pending / in_process: nothing to apply yet.
		return nil
	}
}

func (s *Service) resolveBooking(ctx context.Context, bookingID uuid.UUID, paymentID string) (*Booking, error) {
	if bookingID != uuid.Nil {
		return s.store.GetByID(ctx, bookingID)
	}
	if booking, err := s.store.FindByPaymentID(ctx, paymentID); err == nil {
		return booking, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// Last resort: the payment's external reference names the booking.
	if s.platformToken == "" {
		return nil, ErrNotFound
	}
	payment, err := s.pay.GetPayment(ctx, s.platformToken, paymentID)
	if err != nil {
		return nil, fmt.Errorf("bookings: fetch payment for resolution: %w", err)
	}
	ref, err := uuid.Parse(payment.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("bookings: payment %s carries no booking reference", paymentID)
	}
	return s.store.GetByID(ctx, ref)
}

// applyApproval marks the booking paid and attempts materialization. A
// materialization failure leaves the booking paid for manual follow-up.
func (s *Service) applyApproval(ctx context.Context, b *Booking, prof *professionals.Professional, paymentID string) error {
	if b.State == StatePendingPayment {
		if err := s.store.MarkPaid(ctx, b.ID, paymentID, s.now()); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				// A concurrent webhook won the transition.
				return nil
			}
			return err
		}
		b.State = StatePaid
		b.MPPaymentID = paymentID
		s.metrics.ObserveTransition(string(StatePaid))
	}

	if !prof.CalendarConnected() {
		s.logger.Warn("booking paid but calendar not connected, awaiting manual confirmation",
			"booking_id", b.ID)
		return nil
	}
	result, err := s.materialize(ctx, b, prof)
	if err != nil {
		s.logger.Error("calendar materialization failed, booking stays paid",
			"error", err, "booking_id", b.ID)
		return nil
	}
	return s.finishConfirmation(ctx, b, prof, result)
}

// materialize creates the calendar event for a booking.
func (s *Service) materialize(ctx context.Context, b *Booking, prof *professionals.Professional) (*calendar.EventResult, error) {
	return s.cal.CreateEvent(ctx, b.ProfessionalID, calendar.EventInput{
		Title:         fmt.Sprintf("%s — %s", b.EventName, b.PatientName),
		Description:   fmt.Sprintf("Turno reservado por %s (%s)", b.PatientName, b.PatientEmail),
		Start:         b.Start,
		End:           b.End(),
		AttendeeName:  b.PatientName,
		AttendeeEmail: b.PatientEmail,
		AttendeePhone: b.PatientPhone,
		Virtual:       b.Virtual,
		Notes:         b.Notes,
	})
}

func (s *Service) finishConfirmation(ctx context.Context, b *Booking, prof *professionals.Professional, event *calendar.EventResult) error {
	eventID, meetingLink := "", ""
	if event != nil {
		eventID = event.EventID
		meetingLink = event.MeetingLink
	}
	if err := s.store.MarkConfirmed(ctx, b.ID, eventID, meetingLink, s.now()); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	b.State = StateConfirmed
	if eventID != "" {
		b.CalendarEventID = eventID
	}
	if meetingLink != "" {
		b.MeetingLink = meetingLink
	}
	s.metrics.ObserveTransition(string(StateConfirmed))
	s.logger.Info("booking confirmed", "booking_id", b.ID, "calendar_event", eventID)

	email := s.emailFields(b, prof)
	if err := s.mail.SendBookingConfirmation(ctx, email); err != nil {
		s.logger.Error("confirmation email failed", "error", err, "booking_id", b.ID)
	}
	if err := s.mail.SendNewBookingNotification(ctx, email); err != nil {
		s.logger.Error("professional notification failed", "error", err, "booking_id", b.ID)
	}
	return nil
}

// cancel moves the booking to cancelled, cleaning up any materialized event.
func (s *Service) cancel(ctx context.Context, b *Booking, prof *professionals.Professional) error {
	if err := s.store.MarkCancelled(ctx, b.ID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	b.State = StateCancelled
	s.metrics.ObserveTransition(string(StateCancelled))

	if b.CalendarEventID != "" {
		if err := s.cal.DeleteEvent(ctx, b.ProfessionalID, b.CalendarEventID); err != nil {
			s.logger.Error("calendar event cleanup failed",
				"error", err, "booking_id", b.ID, "calendar_event", b.CalendarEventID)
		}
	}
	if err := s.mail.SendBookingCancellation(ctx, s.emailFields(b, prof)); err != nil {
		s.logger.Error("cancellation email failed", "error", err, "booking_id", b.ID)
	}
	s.logger.Info("booking cancelled", "booking_id", b.ID)
	return nil
}

// ActionResult reports the outcome of a confirm/reject action.
type ActionResult struct {
	State        State
	AlreadyFinal bool
}

// Confirm applies the professional's confirm action. Calling it on an
// already-confirmed booking returns the final state without reprocessing, so
// magic-link retries are harmless.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID) (*ActionResult, error) {
	booking, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.State.Terminal() {
		return &ActionResult{State: booking.State, AlreadyFinal: true}, nil
	}
	// A processor-paid booking is only confirmable once the money arrived;
	// bank transfers are confirmed manually from pending_payment.
	if booking.PaymentMethod != professionals.PaymentBankTransfer && booking.State != StatePaid {
		return nil, ErrInvalidTransition
	}

	prof, err := s.directory.GetByID(ctx, booking.ProfessionalID)
	if err != nil {
		return nil, fmt.Errorf("bookings: load professional: %w", err)
	}

	var event *calendar.EventResult
	if booking.CalendarEventID == "" && prof.CalendarConnected() {
		event, err = s.materialize(ctx, booking, prof)
		if err != nil {
			// The professional explicitly confirmed; a calendar failure
			// should not block them.
			s.logger.Error("materialization failed during manual confirm",
				"error", err, "booking_id", booking.ID)
			event = nil
		}
	}
	if err := s.finishConfirmation(ctx, booking, prof, event); err != nil {
		return nil, err
	}
	return &ActionResult{State: StateConfirmed}, nil
}

// Reject applies the professional's reject action. Idempotent on terminal
// bookings.
func (s *Service) Reject(ctx context.Context, bookingID uuid.UUID) (*ActionResult, error) {
	booking, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.State.Terminal() {
		return &ActionResult{State: booking.State, AlreadyFinal: true}, nil
	}
	prof, err := s.directory.GetByID(ctx, booking.ProfessionalID)
	if err != nil {
		return nil, fmt.Errorf("bookings: load professional: %w", err)
	}
	if err := s.cancel(ctx, booking, prof); err != nil {
		return nil, err
	}
	return &ActionResult{State: StateCancelled}, nil
}

// AttachTransferProof records the proof-of-transfer URL on a bank-transfer
// booking and notifies the professional, who then confirms or rejects.
func (s *Service) AttachTransferProof(ctx context.Context, bookingID uuid.UUID, proofURL string) error {
	if _, err := url.ParseRequestURI(proofURL); err != nil {
		return fmt.Errorf("%w: proof url is malformed", ErrValidation)
	}
	booking, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.PaymentMethod != professionals.PaymentBankTransfer {
		return fmt.Errorf("%w: booking is not paid by transfer", ErrValidation)
	}
	if err := s.store.SetTransferProof(ctx, bookingID, proofURL); err != nil {
		return err
	}
	booking.TransferProofURL = proofURL

	prof, err := s.directory.GetByID(ctx, booking.ProfessionalID)
	if err != nil {
		return fmt.Errorf("bookings: load professional: %w", err)
	}
	if err := s.mail.SendComprobanteNotification(ctx, s.emailFields(booking, prof)); err != nil {
		s.logger.Error("comprobante notification failed", "error", err, "booking_id", booking.ID)
	}
	return nil
}

// Get loads a booking for status polling.
func (s *Service) Get(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	return s.store.GetByID(ctx, bookingID)
}

func (s *Service) emailFields(b *Booking, prof *professionals.Professional) notify.BookingEmail {
	email := notify.BookingEmail{
		PatientName:       b.PatientName,
		PatientEmail:      b.PatientEmail,
		ProfessionalName:  prof.Name,
		ProfessionalEmail: prof.Email,
		EventName:         b.EventName,
		Start:             b.Start,
		Virtual:           b.Virtual,
		MeetingLink:       b.MeetingLink,
		AmountCents:       b.AmountCents,
		TransferProofURL:  b.TransferProofURL,
	}
	if s.signer != nil && s.publicBaseURL != "" {
		email.ConfirmURL = s.actionURL(b.ID, "confirm")
		email.RejectURL = s.actionURL(b.ID, "reject")
	}
	return email
}

func (s *Service) actionURL(bookingID uuid.UUID, action string) string {
	return fmt.Sprintf("%s/booking-actions?bookingId=%s&action=%s&token=%s",
		s.publicBaseURL, bookingID, action, s.signer.Sign(bookingID, action))
}
