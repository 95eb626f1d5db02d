// Package memrepo provides in-memory implementations of the repo interfaces.
// They honor the same atomicity contracts as the Postgres repositories and
// back the unit and end-to-end tests.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

// Users is an in-memory repo.UserRepo
type Users struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]model.User
	byPhone map[string]uuid.UUID
}

func NewUsers() *Users {
	return &Users{byID: map[uuid.UUID]model.User{}, byPhone: map[string]uuid.UUID{}}
}

var _ repo.UserRepo = (*Users)(nil)

func (u *Users) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, repo.ErrNotFound)
	}
	return user, nil
}

func (u *Users) GetByPhone(_ context.Context, phone string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.byPhone[phone]
	if !ok {
		return model.User{}, fmt.Errorf("user by phone: %w", repo.ErrNotFound)
	}
	return u.byID[id], nil
}

func (u *Users) CreateIfAbsent(_ context.Context, user model.User) (model.User, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if id, ok := u.byPhone[user.Phone]; ok {
		return u.byID[id], false, nil
	}
	for _, existing := range u.byID {
		if existing.Promocode == user.Promocode {
			return model.User{}, false, fmt.Errorf("insert user: %w", repo.ErrConflict)
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	u.byID[user.ID] = user
	u.byPhone[user.Phone] = user.ID
	return user, true, nil
}

func (u *Users) SetName(_ context.Context, id uuid.UUID, name string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, repo.ErrNotFound)
	}
	user.Name = &name
	u.byID[id] = user
	return user, nil
}

func (u *Users) SetGreeted(_ context.Context, id uuid.UUID, from, to bool) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok || user.Greeted != from {
		return false, nil
	}
	user.Greeted = to
	u.byID[id] = user
	return true, nil
}

// Count returns the number of stored users
func (u *Users) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.byID)
}

type storedCode struct {
	code model.OtpCode
	hash string
}

// Codes is an in-memory repo.OtpRepo
type Codes struct {
	mu      sync.Mutex
	byPhone map[string]storedCode
}

func NewCodes() *Codes {
	return &Codes{byPhone: map[string]storedCode{}}
}

var _ repo.OtpRepo = (*Codes)(nil)

func (c *Codes) Replace(_ context.Context, phone, codeHash string, expiresAt, canSendAt time.Time) (model.OtpCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p, sc := range c.byPhone {
		if sc.hash == codeHash && p != phone {
			return model.OtpCode{}, fmt.Errorf("insert code: %w", repo.ErrConflict)
		}
	}
	code := model.OtpCode{Phone: phone, ExpiresAt: expiresAt, CanSendAt: canSendAt, CreatedAt: time.Now()}
	c.byPhone[phone] = storedCode{code: code, hash: codeHash}
	return code, nil
}

func (c *Codes) GetByPhone(_ context.Context, phone string) (model.OtpCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.byPhone[phone]
	if !ok {
		return model.OtpCode{}, fmt.Errorf("code by phone: %w", repo.ErrNotFound)
	}
	return sc.code, nil
}

func (c *Codes) Take(_ context.Context, codeHash string) (model.OtpCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for phone, sc := range c.byPhone {
		if sc.hash == codeHash {
			delete(c.byPhone, phone)
			return sc.code, nil
		}
	}
	return model.OtpCode{}, fmt.Errorf("take code: %w", repo.ErrNotFound)
}

func (c *Codes) DeleteByHash(_ context.Context, codeHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for phone, sc := range c.byPhone {
		if sc.hash == codeHash {
			delete(c.byPhone, phone)
		}
	}
	return nil
}

func (c *Codes) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for phone, sc := range c.byPhone {
		if !sc.code.ExpiresAt.After(now) {
			delete(c.byPhone, phone)
			n++
		}
	}
	return n, nil
}

// Rewind moves the phone's code timestamps d into the past, as if d had elapsed
func (c *Codes) Rewind(phone string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.byPhone[phone]
	if !ok {
		return
	}
	sc.code.ExpiresAt = sc.code.ExpiresAt.Add(-d)
	sc.code.CanSendAt = sc.code.CanSendAt.Add(-d)
	c.byPhone[phone] = sc
}

// Len returns the number of stored codes
func (c *Codes) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byPhone)
}

// Limits is an in-memory repo.LimitRepo
type Limits struct {
	mu      sync.Mutex
	byPhone map[string]model.ResendLimit
}

func NewLimits() *Limits {
	return &Limits{byPhone: map[string]model.ResendLimit{}}
}

var _ repo.LimitRepo = (*Limits)(nil)

func (l *Limits) Register(_ context.Context, limit model.ResendLimit, now time.Time) (model.ResendLimit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.byPhone[limit.Phone]; ok && existing.ExpiresAt.After(now) {
		return existing, nil
	}
	l.byPhone[limit.Phone] = limit
	return limit, nil
}

func (l *Limits) Consume(_ context.Context, phone string, now time.Time) (model.ResendLimit, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit, ok := l.byPhone[phone]
	if !ok || !limit.ExpiresAt.After(now) {
		return model.ResendLimit{}, false, fmt.Errorf("limit for phone: %w", repo.ErrNotFound)
	}
	if limit.Remaining <= 0 {
		return limit, false, nil
	}
	limit.Remaining--
	l.byPhone[phone] = limit
	return limit, true, nil
}

func (l *Limits) Get(_ context.Context, phone string) (model.ResendLimit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit, ok := l.byPhone[phone]
	if !ok {
		return model.ResendLimit{}, fmt.Errorf("limit for phone: %w", repo.ErrNotFound)
	}
	return limit, nil
}

func (l *Limits) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for phone, limit := range l.byPhone {
		if !limit.ExpiresAt.After(now) {
			delete(l.byPhone, phone)
			n++
		}
	}
	return n, nil
}

// Rewind moves the phone's limit expiry d into the past
func (l *Limits) Rewind(phone string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit, ok := l.byPhone[phone]; ok {
		limit.ExpiresAt = limit.ExpiresAt.Add(-d)
		l.byPhone[phone] = limit
	}
}

// Tokens is an in-memory repo.TokenRepo
type Tokens struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]model.TokenPair
}

func NewTokens() *Tokens {
	return &Tokens{byUser: map[uuid.UUID]model.TokenPair{}}
}

var _ repo.TokenRepo = (*Tokens)(nil)

func (t *Tokens) Create(_ context.Context, pair model.TokenPair) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byUser[pair.UserID]; ok {
		return fmt.Errorf("insert token pair: %w", repo.ErrConflict)
	}
	pair.CreatedAt = time.Now()
	t.byUser[pair.UserID] = pair
	return nil
}

func (t *Tokens) FindByUser(_ context.Context, userID uuid.UUID) (model.TokenPair, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pair, ok := t.byUser[userID]
	if !ok {
		return model.TokenPair{}, fmt.Errorf("token pair: %w", repo.ErrNotFound)
	}
	return pair, nil
}

func (t *Tokens) find(match func(model.TokenPair) bool) (model.TokenPair, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pair := range t.byUser {
		if match(pair) {
			return pair, nil
		}
	}
	return model.TokenPair{}, fmt.Errorf("token pair: %w", repo.ErrNotFound)
}

func (t *Tokens) FindByAccess(_ context.Context, accessToken string) (model.TokenPair, error) {
	return t.find(func(p model.TokenPair) bool { return p.AccessToken == accessToken })
}

func (t *Tokens) FindByRefresh(_ context.Context, refreshToken string) (model.TokenPair, error) {
	return t.find(func(p model.TokenPair) bool { return p.RefreshToken == refreshToken })
}

func (t *Tokens) Rotate(_ context.Context, refreshToken string, next model.TokenPair) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for userID, pair := range t.byUser {
		if pair.RefreshToken != refreshToken {
			continue
		}
		if userID != next.UserID {
			return fmt.Errorf("rotate: refresh token belongs to another user: %w", repo.ErrConflict)
		}
		delete(t.byUser, userID)
		next.CreatedAt = time.Now()
		t.byUser[next.UserID] = next
		return nil
	}
	return fmt.Errorf("rotate: %w", repo.ErrNotFound)
}

func (t *Tokens) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUser, userID)
	return nil
}

// CountFor returns how many pairs the user owns (0 or 1)
func (t *Tokens) CountFor(userID uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byUser[userID]; ok {
		return 1
	}
	return 0
}

// Messages is an in-memory repo.MessageRepo
type Messages struct {
	mu   sync.Mutex
	seq  int64
	rows []messageRow
}

type messageRow struct {
	seq int64
	msg model.Message
}

func NewMessages() *Messages {
	return &Messages{}
}

var _ repo.MessageRepo = (*Messages)(nil)

func (m *Messages) Append(_ context.Context, msgs ...model.Message) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}
		msg.CreatedAt = time.Now()
		m.seq++
		m.rows = append(m.rows, messageRow{seq: m.seq, msg: msg})
		stored = append(stored, msg)
	}
	return stored, nil
}

func (m *Messages) userRows(userID uuid.UUID) []messageRow {
	var out []messageRow
	for _, r := range m.rows {
		if r.msg.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *Messages) List(_ context.Context, userID uuid.UUID, offset, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.userRows(userID)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.msg)
	}
	return out, nil
}

func (m *Messages) LatestByRole(_ context.Context, userID uuid.UUID, role string) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.userRows(userID)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].msg.Role == role {
			return rows[i].msg, nil
		}
	}
	return model.Message{}, fmt.Errorf("latest %s message: %w", role, repo.ErrNotFound)
}

func (m *Messages) Delete(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.msg.ID == id && r.msg.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", id, repo.ErrNotFound)
}

// Orders is an in-memory repo.OrderRepo. Settle updates users, the
// order owners.
type Orders struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]model.Order
	tariffs map[string]model.Tariff
	users   *Users
}

func NewOrders(users *Users) *Orders {
	return &Orders{orders: map[uuid.UUID]model.Order{}, tariffs: map[string]model.Tariff{}, users: users}
}

var _ repo.OrderRepo = (*Orders)(nil)

// PutOrder seeds an order
func (o *Orders) PutOrder(order model.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[order.ID] = order
}

// PutTariff seeds a tariff
func (o *Orders) PutTariff(t model.Tariff) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tariffs[t.Name] = t
}

func (o *Orders) GetOrder(_ context.Context, id uuid.UUID) (model.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", id, repo.ErrNotFound)
	}
	return order, nil
}

func (o *Orders) Transition(_ context.Context, id uuid.UUID, from, to string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	o.orders[id] = order
	return true, nil
}

func (o *Orders) GetTariff(_ context.Context, name string) (model.Tariff, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tariffs[name]
	if !ok {
		return model.Tariff{}, fmt.Errorf("tariff %q: %w", name, repo.ErrNotFound)
	}
	return t, nil
}

func (o *Orders) Settle(_ context.Context, id uuid.UUID, tariff model.Tariff, now time.Time) (time.Time, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok || order.Status != model.OrderNew {
		return time.Time{}, false, nil
	}

	o.users.mu.Lock()
	defer o.users.mu.Unlock()
	user, ok := o.users.byID[order.UserID]
	if !ok {
		return time.Time{}, false, fmt.Errorf("user %s: %w", order.UserID, repo.ErrNotFound)
	}
	user.Tariff = tariff.Name
	user.TariffExpire = repo.ExtendTariff(user.TariffExpire, now, tariff.Duration)
	o.users.byID[user.ID] = user

	order.Status = model.OrderPaid
	o.orders[id] = order
	return user.TariffExpire, true, nil
}
