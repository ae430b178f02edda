// ABOUTME: Tests for the conversation Registry
// ABOUTME: Covers lazy creation, removal, cross-session unsubscribe, shutdown

package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atium-Research/at-backend/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewRegistry(st, &scriptedRunner{}, nil), st
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	r, _ := newTestRegistry(t)

	s1 := r.Get("c1")
	s2 := r.Get("c1")
	assert.Same(t, s1, s2)

	other := r.Get("c2")
	assert.NotSame(t, s1, other)
}

func TestRegistry_GetConcurrent(t *testing.T) {
	r, _ := newTestRegistry(t)

	const n = 32
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = r.Get("same-chat")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestRegistry_RemoveClosesSession(t *testing.T) {
	r, st := newTestRegistry(t)
	chat, err := st.CreateChat(context.Background(), "")
	require.NoError(t, err)

	s := r.Get(chat.ID)
	r.Remove(chat.ID)

	err = s.SendUserMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrClosed)

	// A later Get creates a fresh session for the same id.
	fresh := r.Get(chat.ID)
	assert.NotSame(t, s, fresh)
	assert.NoError(t, fresh.SendUserMessage(context.Background(), "hi"))
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Remove("never-created")
}

func TestRegistry_UnsubscribeAll(t *testing.T) {
	r, _ := newTestRegistry(t)

	sub := newChanSubscriber()
	s1 := r.Get("c1")
	s2 := r.Get("c2")
	s1.Subscribe(sub)
	s2.Subscribe(sub)

	r.UnsubscribeAll(sub)

	for _, s := range []*Session{s1, s2} {
		s.mu.Lock()
		count := len(s.subscribers)
		s.mu.Unlock()
		assert.Equal(t, 0, count)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r, st := newTestRegistry(t)
	chat, err := st.CreateChat(context.Background(), "")
	require.NoError(t, err)

	s := r.Get(chat.ID)
	r.CloseAll()

	assert.ErrorIs(t, s.SendUserMessage(context.Background(), "hi"), ErrClosed)
}
