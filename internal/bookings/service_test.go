package bookings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/internal/calendar"
	"github.com/turnia/turnia-platform/internal/catalog"
	"github.com/turnia/turnia-platform/internal/notify"
	"github.com/turnia/turnia-platform/internal/payments"
	"github.com/turnia/turnia-platform/internal/professionals"
)

type memStore struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*Booking
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{bookings: map[uuid.UUID]*Booking{}}
}

func (m *memStore) put(b *Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *b
	m.bookings[b.ID] = &copied
}

func (m *memStore) Insert(ctx context.Context, b *Booking) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	b.ID = uuid.New()
	b.State = StatePendingPayment
	b.CreatedAt = time.Now()
	m.put(b)
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) FindByPaymentID(ctx context.Context, mpPaymentID string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.MPPaymentID == mpPaymentID {
			copied := *b
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) MarkPaid(ctx context.Context, id uuid.UUID, mpPaymentID string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.State != StatePendingPayment {
		return ErrInvalidTransition
	}
	b.State = StatePaid
	b.MPPaymentID = mpPaymentID
	b.PaidAt = &paidAt
	return nil
}

func (m *memStore) MarkConfirmed(ctx context.Context, id uuid.UUID, calendarEventID, meetingLink string, confirmedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.State.Terminal() {
		return ErrInvalidTransition
	}
	b.State = StateConfirmed
	if calendarEventID != "" {
		b.CalendarEventID = calendarEventID
	}
	if meetingLink != "" {
		b.MeetingLink = meetingLink
	}
	b.ConfirmedAt = &confirmedAt
	return nil
}

func (m *memStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.State.Terminal() {
		return ErrInvalidTransition
	}
	b.State = StateCancelled
	return nil
}

func (m *memStore) SetTransferProof(ctx context.Context, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.State != StatePendingPayment {
		return ErrInvalidTransition
	}
	b.TransferProofURL = url
	return nil
}

type stubServiceDirectory struct {
	prof *professionals.Professional
}

func (s *stubServiceDirectory) GetBySlug(ctx context.Context, slug string) (*professionals.Professional, error) {
	return s.prof, nil
}

func (s *stubServiceDirectory) GetByID(ctx context.Context, id uuid.UUID) (*professionals.Professional, error) {
	return s.prof, nil
}

type stubServiceCatalog struct {
	event *catalog.EventType
}

func (s *stubServiceCatalog) GetEventType(ctx context.Context, id uuid.UUID) (*catalog.EventType, error) {
	return s.event, nil
}

type stubPayClient struct {
	preference    *payments.Preference
	preferenceErr error
	lastPrefReq   payments.PreferenceRequest
	prefCalls     int

	payment    *payments.Payment
	paymentErr error
	getCalls   int
}

func (s *stubPayClient) CreatePreference(ctx context.Context, token string, req payments.PreferenceRequest) (*payments.Preference, error) {
	s.prefCalls++
	s.lastPrefReq = req
	if s.preferenceErr != nil {
		return nil, s.preferenceErr
	}
	return s.preference, nil
}

func (s *stubPayClient) GetPayment(ctx context.Context, token, paymentID string) (*payments.Payment, error) {
	s.getCalls++
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	return s.payment, nil
}

type stubCalendar struct {
	result     *calendar.EventResult
	createErr  error
	creates    int
	deletes    []string
	lastInput  calendar.EventInput
	deleteErrs error
}

func (s *stubCalendar) FreeBusy(ctx context.Context, professionalID uuid.UUID, timeMin, timeMax time.Time) ([]calendar.Interval, error) {
	return nil, nil
}

func (s *stubCalendar) CreateEvent(ctx context.Context, professionalID uuid.UUID, input calendar.EventInput) (*calendar.EventResult, error) {
	s.creates++
	s.lastInput = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.result, nil
}

func (s *stubCalendar) DeleteEvent(ctx context.Context, professionalID uuid.UUID, eventID string) error {
	s.deletes = append(s.deletes, eventID)
	return s.deleteErrs
}

type recordingNotifier struct {
	confirmations []notify.BookingEmail
	newBookings   []notify.BookingEmail
	cancellations []notify.BookingEmail
	comprobantes  []notify.BookingEmail
}

func (r *recordingNotifier) SendBookingConfirmation(ctx context.Context, b notify.BookingEmail) error {
	r.confirmations = append(r.confirmations, b)
	return nil
}

func (r *recordingNotifier) SendNewBookingNotification(ctx context.Context, b notify.BookingEmail) error {
	r.newBookings = append(r.newBookings, b)
	return nil
}

func (r *recordingNotifier) SendBookingCancellation(ctx context.Context, b notify.BookingEmail) error {
	r.cancellations = append(r.cancellations, b)
	return nil
}

func (r *recordingNotifier) SendComprobanteNotification(ctx context.Context, b notify.BookingEmail) error {
	r.comprobantes = append(r.comprobantes, b)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, error) { return false, nil }

type serviceFixture struct {
	service *Service
	store   *memStore
	pay     *stubPayClient
	cal     *stubCalendar
	mail    *recordingNotifier
	prof    *professionals.Professional
	event   *catalog.EventType
}

func newServiceFixture(t *testing.T, method professionals.PaymentMethod, calendarConnected bool) *serviceFixture {
	t.Helper()
	prof := &professionals.Professional{
		ID:            uuid.New(),
		Slug:          "dra-garcia",
		Name:          "Dra. García",
		Email:         "garcia@example.com",
		PaymentMethod: method,
		MPAccessToken: "prof-token",
		Active:        true,
	}
	if method == professionals.PaymentBankTransfer {
		prof.MPAccessToken = ""
		prof.Transfer = professionals.TransferDetails{Alias: "dra.garcia.mp", CBU: "0000003100010000000001", Holder: "María García"}
	}
	if calendarConnected {
		prof.Calendar = &professionals.CalendarCredentials{RefreshToken: "refresh"}
	}
	event := &catalog.EventType{
		ID:             uuid.New(),
		ProfessionalID: prof.ID,
		Name:           "Consulta",
		DurationMin:    30,
		PriceCents:     1500000,
		Modality:       catalog.ModalityVirtual,
		Active:         true,
	}
	store := newMemStore()
	pay := &stubPayClient{
		preference: &payments.Preference{ID: "pref-1", InitPoint: "https://mp.example/init/pref-1"},
	}
	cal := &stubCalendar{
		result: &calendar.EventResult{EventID: "evt-1", MeetingLink: "https://meet.google.com/abc"},
	}
	mail := &recordingNotifier{}
	svc := NewService(ServiceConfig{
		Directory:     &stubServiceDirectory{prof: prof},
		Catalog:       &stubServiceCatalog{event: event},
		Store:         store,
		Calendar:      cal,
		Payments:      pay,
		Notifier:      mail,
		Signer:        NewActionSigner("action-secret"),
		PublicBaseURL: "https://turnia.example",
		PlatformToken: "platform-token",
	})
	return &serviceFixture{service: svc, store: store, pay: pay, cal: cal, mail: mail, prof: prof, event: event}
}

func validCreateRequest(f *serviceFixture) *CreateRequest {
	return &CreateRequest{
		ProfessionalSlug: f.prof.Slug,
		EventTypeID:      f.event.ID,
		Start:            time.Now().Add(72 * time.Hour),
		PatientName:      "Juan Pérez",
		PatientEmail:     "juan@example.com",
	}
}

func TestCreateMercadoPagoBooking(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)

	result, err := f.service.Create(context.Background(), validCreateRequest(f))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Booking.State != StatePendingPayment {
		t.Fatalf("expected pending_payment, got %s", result.Booking.State)
	}
	if result.InitPoint == "" || result.PreferenceID != "pref-1" {
		t.Fatalf("expected preference data, got %+v", result)
	}
	if result.Transfer != nil {
		t.Fatal("mercadopago booking must not carry transfer details")
	}
	if f.pay.lastPrefReq.ExternalReference != result.Booking.ID.String() {
		t.Fatalf("external reference must be the booking id, got %q", f.pay.lastPrefReq.ExternalReference)
	}
	if !strings.Contains(f.pay.lastPrefReq.NotificationURL, "bookingId="+result.Booking.ID.String()) {
		t.Fatalf("notification URL must carry the booking id: %q", f.pay.lastPrefReq.NotificationURL)
	}
	if got := f.pay.lastPrefReq.Items[0].UnitPrice; got != 15000 {
		t.Fatalf("expected ARS 15000.00, got %v", got)
	}
}

func TestCreateBankTransferBooking(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentBankTransfer, false)

	result, err := f.service.Create(context.Background(), validCreateRequest(f))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.pay.prefCalls != 0 {
		t.Fatal("bank transfer bookings must not create a preference")
	}
	if result.Transfer == nil || result.Transfer.CBU == "" {
		t.Fatalf("expected transfer instructions, got %+v", result.Transfer)
	}
}

func TestCreatePropagatesConflict(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	f.store.insertErr = ErrConflict

	if _, err := f.service.Create(context.Background(), validCreateRequest(f)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateRateLimited(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	f.service.limiter = denyLimiter{}

	if _, err := f.service.Create(context.Background(), validCreateRequest(f)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCreatePreferenceFailureIsUpstream(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	f.pay.preferenceErr = errors.New("mp: 503")

	if _, err := f.service.Create(context.Background(), validCreateRequest(f)); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func seedBooking(f *serviceFixture, state State) *Booking {
	b := &Booking{
		ID:             uuid.New(),
		ProfessionalID: f.prof.ID,
		EventName:      f.event.Name,
		DurationMin:    f.event.DurationMin,
		Virtual:        true,
		PatientName:    "Juan Pérez",
		PatientEmail:   "juan@example.com",
		Start:          time.Now().Add(72 * time.Hour),
		AmountCents:    f.event.PriceCents,
		PaymentMethod:  f.prof.PaymentMethod,
		State:          state,
	}
	f.store.put(b)
	return b
}

func TestApprovedPaymentConfirmsAndMaterializes(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusApproved,
		ExternalReference: b.ID.String(),
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("ApplyPaymentNotification: %v", err)
	}

	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.State != StateConfirmed {
		t.Fatalf("expected confirmed, got %s", stored.State)
	}
	if stored.CalendarEventID != "evt-1" || stored.MeetingLink == "" {
		t.Fatalf("expected materialized event, got %+v", stored)
	}
	if f.cal.creates != 1 {
		t.Fatalf("expected 1 calendar event, got %d", f.cal.creates)
	}
	if len(f.mail.confirmations) != 1 || len(f.mail.newBookings) != 1 {
		t.Fatalf("expected patient + professional emails, got %d/%d",
			len(f.mail.confirmations), len(f.mail.newBookings))
	}
	if f.mail.newBookings[0].ConfirmURL == "" || f.mail.newBookings[0].RejectURL == "" {
		t.Fatal("professional notification must carry magic links")
	}
}

func TestApprovedPaymentRedeliveryIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusApproved,
		ExternalReference: b.ID.String(),
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("first notification: %v", err)
	}
	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("redelivered notification: %v", err)
	}

	if f.cal.creates != 1 {
		t.Fatalf("redelivery must not create another calendar event, got %d", f.cal.creates)
	}
	if len(f.mail.confirmations) != 1 {
		t.Fatalf("redelivery must not resend emails, got %d", len(f.mail.confirmations))
	}
}

func TestApprovedPaymentWithoutCalendarStaysPaid(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, false)
	b := seedBooking(f, StatePendingPayment)
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusApproved,
		ExternalReference: b.ID.String(),
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("ApplyPaymentNotification: %v", err)
	}
	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.State != StatePaid {
		t.Fatalf("expected paid awaiting manual confirmation, got %s", stored.State)
	}
	if len(f.mail.confirmations) != 0 {
		t.Fatal("no confirmation email before the booking is confirmed")
	}
}

func TestMaterializationFailureLeavesBookingPaid(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)
	f.cal.createErr = errors.New("google: 500")
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusApproved,
		ExternalReference: b.ID.String(),
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("materialization failure must not fail the webhook: %v", err)
	}
	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.State != StatePaid {
		t.Fatalf("expected paid, got %s", stored.State)
	}
}

func TestRejectedPaymentCancelsBooking(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusRejected,
		ExternalReference: b.ID.String(),
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("ApplyPaymentNotification: %v", err)
	}
	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", stored.State)
	}
	if len(f.mail.cancellations) != 1 {
		t.Fatalf("expected cancellation email, got %d", len(f.mail.cancellations))
	}
}

func TestPaymentMismatchedReferenceRejected(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusApproved,
		ExternalReference: uuid.NewString(), // someone else's booking
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err == nil {
		t.Fatal("expected error on external reference mismatch")
	}
	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.State != StatePendingPayment {
		t.Fatalf("state must be untouched, got %s", stored.State)
	}
}

func TestPendingStatusIsNoOp(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)
	f.pay.payment = &payments.Payment{
		ID:                1,
		Status:            payments.StatusInProcess,
		ExternalReference: b.ID.String(),
	}

	if err := f.service.ApplyPaymentNotification(context.Background(), b.ID, "pay-1"); err != nil {
		t.Fatalf("ApplyPaymentNotification: %v", err)
	}
	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.State != StatePendingPayment {
		t.Fatalf("in_process must not transition, got %s", stored.State)
	}
}

func TestConfirmBeforePaymentRejected(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)

	if _, err := f.service.Confirm(context.Background(), b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before payment, got %v", err)
	}
}

func TestConfirmPaidBooking(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePaid)

	result, err := f.service.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if result.State != StateConfirmed || result.AlreadyFinal {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.cal.creates != 1 {
		t.Fatalf("expected calendar materialization, got %d creates", f.cal.creates)
	}
}

func TestConfirmIsIdempotentOnConfirmed(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StateConfirmed)

	result, err := f.service.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !result.AlreadyFinal || result.State != StateConfirmed {
		t.Fatalf("expected already-final confirmed, got %+v", result)
	}
	if f.cal.creates != 0 || len(f.mail.confirmations) != 0 {
		t.Fatal("repeated confirm must not reprocess")
	}
}

func TestConfirmBankTransferFromPending(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentBankTransfer, false)
	b := seedBooking(f, StatePendingPayment)

	result, err := f.service.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if result.State != StateConfirmed {
		t.Fatalf("expected confirmed, got %s", result.State)
	}
}

func TestRejectCancelsAndCleansUpCalendar(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePaid)
	b.CalendarEventID = "evt-9"
	f.store.put(b)

	result, err := f.service.Reject(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if result.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
	if len(f.cal.deletes) != 1 || f.cal.deletes[0] != "evt-9" {
		t.Fatalf("expected calendar cleanup of evt-9, got %v", f.cal.deletes)
	}
	if len(f.mail.cancellations) != 1 {
		t.Fatalf("expected cancellation email, got %d", len(f.mail.cancellations))
	}
}

func TestRejectIsIdempotentOnCancelled(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StateCancelled)

	result, err := f.service.Reject(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if !result.AlreadyFinal {
		t.Fatal("expected already-final result")
	}
	if len(f.mail.cancellations) != 0 {
		t.Fatal("repeated reject must not resend emails")
	}
}

func TestAttachTransferProof(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentBankTransfer, false)
	b := seedBooking(f, StatePendingPayment)

	err := f.service.AttachTransferProof(context.Background(), b.ID, "https://files.example/comprobante.pdf")
	if err != nil {
		t.Fatalf("AttachTransferProof: %v", err)
	}
	stored, _ := f.store.GetByID(context.Background(), b.ID)
	if stored.TransferProofURL == "" {
		t.Fatal("expected proof URL stored")
	}
	if len(f.mail.comprobantes) != 1 {
		t.Fatalf("expected comprobante notification, got %d", len(f.mail.comprobantes))
	}
}

func TestAttachTransferProofWrongMethod(t *testing.T) {
	f := newServiceFixture(t, professionals.PaymentMercadoPago, true)
	b := seedBooking(f, StatePendingPayment)

	err := f.service.AttachTransferProof(context.Background(), b.ID, "https://files.example/comprobante.pdf")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
