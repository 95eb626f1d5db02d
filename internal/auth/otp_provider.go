package auth

import "context"

// SMSSender delivers a text message to a phone number
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}
