// Package professionals holds the account owning event types and bookings.
package professionals

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("professionals: not found")

// PaymentMethod selects how a professional collects payment.
type PaymentMethod string

const (
	PaymentMercadoPago  PaymentMethod = "mercadopago"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

// TransferDetails are shown to patients choosing bank transfer.
type TransferDetails struct {
	Alias  string `json:"alias,omitempty"`
	CBU    string `json:"cbu,omitempty"`
	Holder string `json:"holder,omitempty"`
}

// CalendarCredentials are the decrypted Google OAuth tokens for a professional.
// Nil means no calendar is connected.
type CalendarCredentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	CalendarID   string
}

// Professional is the tenant owning event types, blocks and bookings.
type Professional struct {
	ID            uuid.UUID
	Slug          string
	Name          string
	Email         string
	PaymentMethod PaymentMethod
	Transfer      TransferDetails
	MPAccessToken string
	Calendar      *CalendarCredentials
	Active        bool
	CreatedAt     time.Time
}

// CalendarConnected reports whether free/busy filtering and event
// materialization are possible for this professional.
func (p *Professional) CalendarConnected() bool {
	return p.Calendar != nil && p.Calendar.RefreshToken != ""
}
