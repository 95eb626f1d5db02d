package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/chat"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/session"
)

// Client is a live connection as seen by the orchestrator
type Client interface {
	ID() string
	session.Subscriber
}

// Publisher fans an encoded event out to every connection of a user
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, payload []byte) error
}

var errSessionReset = apperr.Conflict("session was reset while the request was running")

// Orchestrator sequences the auth services for each connection and keeps
// the session registry and room membership consistent with the outcome.
type Orchestrator struct {
	auth     *auth.AuthService
	chat     *chat.Service
	sessions *session.Registry
	rooms    *session.Rooms
	pub      Publisher
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	authService *auth.AuthService,
	chatService *chat.Service,
	sessions *session.Registry,
	rooms *session.Rooms,
	pub Publisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		auth:     authService,
		chat:     chatService,
		sessions: sessions,
		rooms:    rooms,
		pub:      pub,
		logger:   logger,
	}
}

// Connect registers the connection. With a token it authenticates straight
// away and returns the user; without one the session stays anonymous and the
// returned user is nil. An invalid token leaves the session anonymous too.
func (o *Orchestrator) Connect(ctx context.Context, c Client, token string) (*model.User, error) {
	s := o.sessions.Open(c.ID())
	if token == "" {
		return nil, nil
	}

	user, pair, err := o.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := o.enter(c, s.Epoch, user, pair); err != nil {
		return nil, err
	}
	return &user, nil
}

// enter moves the session to Authenticated and joins the user's room.
func (o *Orchestrator) enter(c Client, epoch uint64, user model.User, pair model.TokenPair) error {
	_, err := o.sessions.Update(c.ID(), epoch, func(s *session.Session) error {
		s.State = session.Authenticated
		s.Phone = user.Phone
		s.AccessToken = pair.AccessToken
		s.UserID = user.ID
		return nil
	})
	if err != nil {
		return sessionErr(err)
	}
	o.rooms.Subscribe(user.ID, c.ID(), c)
	return nil
}

// RequestCode sends the initial code for phone.
func (o *Orchestrator) RequestCode(ctx context.Context, c Client, phone string) (auth.CodeInfo, error) {
	s, err := o.current(c)
	if err != nil {
		return auth.CodeInfo{}, err
	}
	if s.State == session.Authenticated {
		return auth.CodeInfo{}, apperr.Conflict("already authenticated")
	}
	if !s.CanSendCode {
		return auth.CodeInfo{}, apperr.Conflict("code already sent, use auth_retry to resend it")
	}

	info, err := o.auth.SendCode(ctx, phone)
	if err != nil {
		return auth.CodeInfo{}, err
	}

	_, err = o.sessions.Update(c.ID(), s.Epoch, func(s *session.Session) error {
		s.State = session.CodeSent
		s.Phone = info.Phone
		s.CanSendCode = false
		return nil
	})
	if err != nil {
		return auth.CodeInfo{}, sessionErr(err)
	}
	return info, nil
}

// ResendCode resends a code to the phone of a CODE_SENT session.
func (o *Orchestrator) ResendCode(ctx context.Context, c Client) (auth.CodeInfo, error) {
	s, err := o.current(c)
	if err != nil {
		return auth.CodeInfo{}, err
	}
	if s.State != session.CodeSent || s.CanSendCode {
		return auth.CodeInfo{}, apperr.ValidationError("no code was sent on this connection")
	}

	info, err := o.auth.ResendCode(ctx, s.Phone)
	if err != nil {
		return auth.CodeInfo{}, err
	}
	if cur, ok := o.sessions.Get(c.ID()); !ok || cur.Epoch != s.Epoch {
		return auth.CodeInfo{}, errSessionReset
	}
	return info, nil
}

// Cancel returns the session to ANONYMOUS, keeping only its token. It is
// idempotent.
func (o *Orchestrator) Cancel(_ context.Context, c Client) error {
	var prev session.Session
	_, err := o.sessions.Reset(c.ID(), func(s *session.Session) {
		prev = *s
		*s = session.Session{AccessToken: s.AccessToken, CanSendCode: true}
	})
	if err != nil {
		return sessionErr(err)
	}
	if prev.State == session.Authenticated {
		o.rooms.Unsubscribe(prev.UserID, c.ID())
	}
	return nil
}

// Confirm consumes code and authenticates the connection as the code's
// owner. An account that has not been greeted yet gets its greeting here;
// when storing it fails the next login tries again.
func (o *Orchestrator) Confirm(ctx context.Context, c Client, code string) (auth.LoginResult, error) {
	s, err := o.current(c)
	if err != nil {
		return auth.LoginResult{}, err
	}
	if s.State == session.Authenticated {
		return auth.LoginResult{}, apperr.Conflict("already authenticated")
	}

	res, err := o.auth.Login(ctx, code)
	if err != nil {
		return auth.LoginResult{}, err
	}

	enterErr := o.enter(c, s.Epoch, res.User, res.Tokens)
	if !res.User.Greeted {
		// Account level, so it runs even if this connection was reset meanwhile.
		o.greet(ctx, res.User)
	}
	if enterErr != nil {
		return auth.LoginResult{}, enterErr
	}
	return res, nil
}

func (o *Orchestrator) greet(ctx context.Context, user model.User) {
	claimed, err := o.auth.ClaimGreeting(ctx, user.ID)
	if err != nil {
		o.logger.Error("greeting_claim_failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	msgs, err := o.chat.Greet(ctx, user)
	if err != nil {
		o.logger.Error("greeting_failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		if rerr := o.auth.ReleaseGreeting(context.WithoutCancel(ctx), user.ID); rerr != nil {
			o.logger.Error("greeting_release_failed", zap.String("user_id", user.ID.String()), zap.Error(rerr))
		}
		return
	}
	o.publish(ctx, user.ID, OK(EventMessages, "message", messagesView{Messages: chat.PresentAll(msgs)}))
}

// SetName stores the display name and re-broadcasts the profile. The first
// name a user sets also records and broadcasts the welcome exchange.
func (o *Orchestrator) SetName(ctx context.Context, c Client, name string) (Profile, error) {
	s, err := o.authenticated(c)
	if err != nil {
		return Profile{}, err
	}

	user, first, err := o.auth.SetName(ctx, s.UserID, name)
	if err != nil {
		return Profile{}, err
	}
	if first {
		msgs, err := o.chat.Welcome(ctx, user)
		if err != nil {
			return Profile{}, err
		}
		o.publish(ctx, user.ID, OK(EventMessages, "message", messagesView{Messages: chat.PresentAll(msgs)}))
	}

	profile := ProfileOf(user)
	o.publish(ctx, user.ID, OK(EventProfile, "info", profile))
	return profile, nil
}

// Logout clears this connection's token and leaves the room. The persisted
// pair is untouched so the user's other devices stay signed in.
func (o *Orchestrator) Logout(_ context.Context, c Client) error {
	s, err := o.authenticated(c)
	if err != nil {
		return err
	}
	if _, err := o.sessions.Reset(c.ID(), func(s *session.Session) {
		*s = session.Session{CanSendCode: true}
	}); err != nil {
		return sessionErr(err)
	}
	o.rooms.Unsubscribe(s.UserID, c.ID())
	return nil
}

// Disconnect discards the session and its room membership.
func (o *Orchestrator) Disconnect(c Client) {
	s, ok := o.sessions.Close(c.ID())
	if ok && s.State == session.Authenticated {
		o.rooms.Unsubscribe(s.UserID, c.ID())
	}
}

// Refresh rotates a refresh token. When this connection is authenticated as
// the pair's owner, its access token follows the rotation.
func (o *Orchestrator) Refresh(ctx context.Context, c Client, refreshToken string) (model.TokenPair, error) {
	pair, err := o.auth.Refresh(ctx, refreshToken)
	if err != nil {
		return model.TokenPair{}, err
	}
	if s, ok := o.sessions.Get(c.ID()); ok && s.State == session.Authenticated && s.UserID == pair.UserID {
		_, err := o.sessions.Update(c.ID(), s.Epoch, func(s *session.Session) error {
			s.AccessToken = pair.AccessToken
			return nil
		})
		if err != nil && !errors.Is(err, session.ErrStale) {
			o.logger.Warn("session_token_update_failed", zap.String("conn_id", c.ID()), zap.Error(err))
		}
	}
	return pair, nil
}

// Messages returns the slice [start, end) of the user's log.
func (o *Orchestrator) Messages(ctx context.Context, c Client, start int, end *int) ([]chat.View, error) {
	s, err := o.authenticated(c)
	if err != nil {
		return nil, err
	}
	msgs, err := o.chat.History(ctx, s.UserID, start, end)
	if err != nil {
		return nil, err
	}
	return chat.PresentAll(msgs), nil
}

// AddMessage records text with the assistant's reply and broadcasts both.
func (o *Orchestrator) AddMessage(ctx context.Context, c Client, text string) ([]chat.View, error) {
	s, err := o.authenticated(c)
	if err != nil {
		return nil, err
	}
	user, err := o.auth.User(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	msgs, err := o.chat.Ask(ctx, user, text)
	if err != nil {
		return nil, err
	}
	views := chat.PresentAll(msgs)
	o.publish(ctx, user.ID, OK(EventMessages, "message", messagesView{Messages: views}))
	return views, nil
}

// DeleteMessage deletes one of the user's messages and broadcasts it.
func (o *Orchestrator) DeleteMessage(ctx context.Context, c Client, id string) (uuid.UUID, error) {
	s, err := o.authenticated(c)
	if err != nil {
		return uuid.Nil, err
	}
	deleted, err := o.chat.Delete(ctx, s.UserID, id)
	if err != nil {
		return uuid.Nil, err
	}
	o.publish(ctx, s.UserID, OK(EventMessageDeleted, "message", deletedView{ID: deleted}))
	return deleted, nil
}

func (o *Orchestrator) current(c Client) (session.Session, error) {
	s, ok := o.sessions.Get(c.ID())
	if !ok {
		return session.Session{}, apperr.NotFoundError("session")
	}
	return s, nil
}

func (o *Orchestrator) authenticated(c Client) (session.Session, error) {
	s, err := o.current(c)
	if err != nil {
		return session.Session{}, err
	}
	if s.State != session.Authenticated {
		return session.Session{}, apperr.Unauthenticated("authentication required")
	}
	return s, nil
}

func (o *Orchestrator) publish(ctx context.Context, userID uuid.UUID, reply Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		o.logger.Error("encode_room_event_failed", zap.String("event", reply.Event), zap.Error(err))
		return
	}
	if err := o.pub.Publish(ctx, userID, payload); err != nil {
		o.logger.Error("publish_failed", zap.String("user_id", userID.String()), zap.String("event", reply.Event), zap.Error(err))
	}
}

func sessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrStale):
		return errSessionReset
	case errors.Is(err, session.ErrClosed):
		return apperr.NotFoundError("session")
	default:
		return apperr.InternalError(err)
	}
}
