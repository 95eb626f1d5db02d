// Package gateway drives the per-connection auth state machine and routes
// client events to the auth and chat services.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/chat"
	"github.com/nika/server/internal/model"
)

// Client events
const (
	EventConnect       = "connect"
	EventAuth          = "auth"
	EventAuthRetry     = "auth_retry"
	EventAuthCancel    = "auth_cancel"
	EventAuthConfirm   = "auth_confirm"
	EventLogout        = "logout"
	EventSetName       = "set_name"
	EventGetMessages   = "get_messages"
	EventAddMessage    = "add_message"
	EventDeleteMessage = "delete_message"
	EventRefresh       = "refresh"
)

// Room events pushed to every connection of a user
const (
	EventProfile        = "profile"
	EventMessages       = "messages"
	EventMessageDeleted = "message_deleted"
)

// Request is an inbound frame
type Request struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Reply is an outbound frame: a reply to a Request when ID is set, a room
// event otherwise
type Reply struct {
	ID     string `json:"id,omitempty"`
	Event  string `json:"event"`
	Status int    `json:"status"`
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
}

// OK builds a successful reply
func OK(event, kind string, data any) Reply {
	return Reply{Event: event, Status: http.StatusOK, Type: kind, Data: data}
}

// ErrorReply renders err for the client. Causes stay server-side.
func ErrorReply(event string, err error) Reply {
	ae := apperr.As(err)
	if ae == nil {
		ae = apperr.InternalError(err)
	}
	data := map[string]any{
		"details": ae.Message,
		"kind":    ae.Kind.String(),
	}
	for k, v := range ae.Data {
		data[k] = v
	}
	return Reply{Event: event, Status: ae.Kind.Status(), Type: "error", Data: data}
}

// Profile is the client view of a user
type Profile struct {
	ID           uuid.UUID `json:"id"`
	Phone        string    `json:"phone"`
	Name         *string   `json:"name"`
	Tariff       string    `json:"tariff"`
	TariffExpire time.Time `json:"tariff_expire"`
	Balance      int64     `json:"balance"`
	Promocode    string    `json:"promocode"`
}

// ProfileOf converts a user to its client view
func ProfileOf(u model.User) Profile {
	return Profile{
		ID:           u.ID,
		Phone:        u.Phone,
		Name:         u.Name,
		Tariff:       u.Tariff,
		TariffExpire: u.TariffExpire,
		Balance:      u.Balance,
		Promocode:    u.Promocode,
	}
}

// Tokens is the client view of a token pair
type Tokens struct {
	AccessToken   string    `json:"access_token"`
	AccessExpire  time.Time `json:"access_expire"`
	RefreshToken  string    `json:"refresh_token"`
	RefreshExpire time.Time `json:"refresh_expire"`
}

// TokensOf converts a token pair to its client view
func TokensOf(p model.TokenPair) Tokens {
	return Tokens{
		AccessToken:   p.AccessToken,
		AccessExpire:  p.AccessExpire,
		RefreshToken:  p.RefreshToken,
		RefreshExpire: p.RefreshExpire,
	}
}

// LoginView is the auth_confirm success payload
type LoginView struct {
	User Profile `json:"user"`
	Auth Tokens  `json:"auth"`
}

type phoneData struct {
	Phone string `json:"phone"`
}

type codeData struct {
	Code string `json:"code"`
}

type nameData struct {
	Name string `json:"name"`
}

type rangeData struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

type textData struct {
	Text string `json:"text"`
}

type idData struct {
	ID string `json:"id"`
}

type refreshData struct {
	RefreshToken string `json:"refresh_token"`
}

type messagesView struct {
	Messages []chat.View `json:"messages"`
}

type deletedView struct {
	ID uuid.UUID `json:"id"`
}

type detailsView struct {
	Details string `json:"details"`
}
