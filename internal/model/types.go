package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account identified by its phone number
type User struct {
	ID           uuid.UUID
	Phone        string
	Name         *string
	Tariff       string
	TariffExpire time.Time
	Balance      int64
	Promocode    string
	// Greeted is set once the greeting pair has been stored in the user's log.
	Greeted      bool
	CreatedAt    time.Time
}

// HasName reports whether onboarding has been completed
func (u User) HasName() bool {
	return u.Name != nil && *u.Name != ""
}

// DisplayName returns the user's name or an empty string
func (u User) DisplayName() string {
	if u.Name == nil {
		return ""
	}
	return *u.Name
}

// OtpCode is the single outstanding one-time code for a phone
type OtpCode struct {
	Phone     string
	Code      string
	ExpiresAt time.Time
	// CanSendAt is the earliest time another code may be sent to Phone.
	CanSendAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the code is no longer valid at now
func (c OtpCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// ResendLimit is the per-phone resend quota window
type ResendLimit struct {
	Phone     string
	Remaining int
	ExpiresAt time.Time
}

// TokenPair is the persisted access/refresh credential pair of a user
type TokenPair struct {
	UserID        uuid.UUID
	AccessToken   string
	AccessExpire  time.Time
	RefreshToken  string
	RefreshExpire time.Time
	CreatedAt     time.Time
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a user's conversation log
type Message struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Role      string
	Content   string
	CreatedAt time.Time
}

// Tariff is a purchasable subscription plan
type Tariff struct {
	Name     string
	Amount   int64
	Duration time.Duration
}

// Order statuses
const (
	OrderNew      = "new"
	OrderPaid     = "paid"
	OrderRejected = "rejected"
)

// Order is a tariff purchase awaiting the payment provider
type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Tariff    string
	Amount    int64
	Promocode *string
	Status    string
	CreatedAt time.Time
}
