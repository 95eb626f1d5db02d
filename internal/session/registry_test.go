package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OpenGetClose(t *testing.T) {
	reg := NewRegistry()
	s := reg.Open("c1")
	assert.Equal(t, Anonymous, s.State)
	assert.True(t, s.CanSendCode)

	got, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Equal(t, s, got)

	_, ok = reg.Close("c1")
	assert.True(t, ok)
	_, ok = reg.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_UpdateRejectsStaleEpoch(t *testing.T) {
	reg := NewRegistry()
	before := reg.Open("c1")

	_, err := reg.Reset("c1", func(s *Session) { *s = Session{CanSendCode: true} })
	require.NoError(t, err)

	_, err = reg.Update("c1", before.Epoch, func(s *Session) error {
		s.State = Authenticated
		return nil
	})
	assert.ErrorIs(t, err, ErrStale)

	got, _ := reg.Get("c1")
	assert.Equal(t, Anonymous, got.State)
	assert.Equal(t, uint64(1), got.Epoch)
}

func TestRegistry_UpdateFnErrorLeavesSession(t *testing.T) {
	reg := NewRegistry()
	s := reg.Open("c1")

	boom := errors.New("boom")
	_, err := reg.Update("c1", s.Epoch, func(s *Session) error {
		s.Phone = "89991234567"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := reg.Get("c1")
	assert.Empty(t, got.Phone)
}

func TestRegistry_UpdateClosed(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Update("missing", 0, func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	_, err = reg.Reset("missing", func(*Session) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	reg := NewRegistry()
	reg.Open("c1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Update("c1", 0, func(s *Session) error {
				s.UserID = uuid.New()
				return nil
			})
		}()
	}
	wg.Wait()

	got, ok := reg.Get("c1")
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, got.UserID)
}
