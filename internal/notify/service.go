// Package notify sends transactional booking emails. Every send is
// fire-and-forget from the caller's perspective: failures are logged and
// returned, but lifecycle transitions never roll back because of them.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/turnia/turnia-platform/pkg/logging"
)

// BookingEmail carries the human-readable fields of a booking for templating.
type BookingEmail struct {
	PatientName       string
	PatientEmail      string
	ProfessionalName  string
	ProfessionalEmail string
	EventName         string
	Start             time.Time
	Virtual           bool
	MeetingLink       string
	AmountCents       int64
	TransferProofURL  string
	ConfirmURL        string
	RejectURL         string
}

// Service sends lifecycle notifications.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

func (s *Service) formatStart(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}

func (s *Service) formatAmount(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

// SendBookingConfirmation tells the patient their booking is confirmed.
func (s *Service) SendBookingConfirmation(ctx context.Context, b BookingEmail) error {
	meetInfo := ""
	if b.Virtual && b.MeetingLink != "" {
		meetInfo = fmt.Sprintf("\nLink de la videollamada: %s", b.MeetingLink)
	}
	body := fmt.Sprintf(`Hola %s,

Tu turno fue confirmado.

Profesional: %s
Servicio: %s
Fecha y hora: %s%s

Si necesitás reprogramar, respondé este correo.

— Turnia`, b.PatientName, b.ProfessionalName, b.EventName, s.formatStart(b.Start), meetInfo)

	return s.send(ctx, EmailMessage{
		To:      b.PatientEmail,
		ToName:  b.PatientName,
		Subject: fmt.Sprintf("Turno confirmado con %s", b.ProfessionalName),
		Body:    body,
	})
}

// SendNewBookingNotification tells the professional a booking needs attention.
// Confirm/reject magic links are included when set.
func (s *Service) SendNewBookingNotification(ctx context.Context, b BookingEmail) error {
	actions := ""
	if b.ConfirmURL != "" && b.RejectURL != "" {
		actions = fmt.Sprintf("\n\nConfirmar: %s\nRechazar: %s", b.ConfirmURL, b.RejectURL)
	}
	body := fmt.Sprintf(`Nuevo turno reservado.

Paciente: %s (%s)
Servicio: %s
Fecha y hora: %s
Monto: %s%s

— Turnia`, b.PatientName, b.PatientEmail, b.EventName, s.formatStart(b.Start), s.formatAmount(b.AmountCents), actions)

	return s.send(ctx, EmailMessage{
		To:      b.ProfessionalEmail,
		ToName:  b.ProfessionalName,
		Subject: fmt.Sprintf("Nuevo turno: %s — %s", b.PatientName, s.formatStart(b.Start)),
		Body:    body,
	})
}

// SendBookingCancellation tells the patient their booking was cancelled.
func (s *Service) SendBookingCancellation(ctx context.Context, b BookingEmail) error {
	body := fmt.Sprintf(`Hola %s,

Tu turno del %s con %s fue cancelado.

Si el pago fue realizado, el reembolso se procesa por el mismo medio.

— Turnia`, b.PatientName, s.formatStart(b.Start), b.ProfessionalName)

	return s.send(ctx, EmailMessage{
		To:      b.PatientEmail,
		ToName:  b.PatientName,
		Subject: "Turno cancelado",
		Body:    body,
	})
}

// SendComprobanteNotification tells the professional a transfer proof was
// uploaded and the booking awaits manual confirmation.
func (s *Service) SendComprobanteNotification(ctx context.Context, b BookingEmail) error {
	actions := ""
	if b.ConfirmURL != "" && b.RejectURL != "" {
		actions = fmt.Sprintf("\n\nConfirmar: %s\nRechazar: %s", b.ConfirmURL, b.RejectURL)
	}
	body := fmt.Sprintf(`%s subió el comprobante de transferencia para su turno.

Servicio: %s
Fecha y hora: %s
Monto: %s
Comprobante: %s%s

— Turnia`, b.PatientName, b.EventName, s.formatStart(b.Start), s.formatAmount(b.AmountCents), b.TransferProofURL, actions)

	return s.send(ctx, EmailMessage{
		To:      b.ProfessionalEmail,
		ToName:  b.ProfessionalName,
		Subject: fmt.Sprintf("Comprobante recibido: %s", b.PatientName),
		Body:    body,
	})
}

func (s *Service) send(ctx context.Context, msg EmailMessage) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping", "subject", msg.Subject)
		return nil
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: send failed", "error", err, "to", msg.To, "subject", msg.Subject)
		return err
	}
	return nil
}
