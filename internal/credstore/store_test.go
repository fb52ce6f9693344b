package credstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/identity"
	"warden/internal/testing/mock"
	"warden/pkg/oauth"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// forEachStore runs fn against both store implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *mock.MockClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := mock.NewMockClock(t0)
		fn(t, NewMemoryStore(WithClock(clock)), clock)
	})
	t.Run("file", func(t *testing.T) {
		clock := mock.NewMockClock(t0)
		s, err := NewFileStore(t.TempDir(), WithClock(clock))
		require.NoError(t, err)
		fn(t, s, clock)
	})
}

func TestStore_SaveAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		require.NoError(t, s.Save(&oauth.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			IDToken:      "id-1",
			ExpiresIn:    300,
			TokenType:    "Bearer",
		}))

		assert.Equal(t, "access-1", s.AccessToken())
		assert.Equal(t, "refresh-1", s.RefreshToken())
		assert.Equal(t, "id-1", s.IDToken())
		assert.Equal(t, t0.Add(5*time.Minute).UnixMilli(), s.ExpiresAt().UnixMilli())

		sess, err := s.Load()
		require.NoError(t, err)
		assert.Equal(t, "Bearer", sess.TokenType)
		assert.Equal(t, t0.Add(5*time.Minute).UnixMilli(), sess.ExpiresAtMillis)
	})
}

func TestStore_RejectsEmptyToken(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		assert.Error(t, s.Save(nil))
		assert.Error(t, s.Save(&oauth.Token{}))
		assert.Empty(t, s.AccessToken())
	})
}

func TestStore_ExpiryOverSimulatedClock(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *mock.MockClock) {
		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a", ExpiresIn: 600}))

		assert.False(t, s.IsExpired())

		clock.Advance(4 * time.Minute)
		assert.False(t, s.IsExpired(), "outside the 5m skew window")

		clock.Advance(time.Minute + time.Second)
		assert.True(t, s.IsExpired(), "inside the skew window")

		clock.Advance(time.Hour)
		assert.True(t, s.IsExpired())
	})
}

func TestStore_CustomSkew(t *testing.T) {
	clock := mock.NewMockClock(t0)
	s := NewMemoryStore(WithClock(clock), WithSkew(0))
	require.NoError(t, s.Save(&oauth.Token{AccessToken: "a", ExpiresIn: 60}))

	clock.Advance(59 * time.Second)
	assert.False(t, s.IsExpired())
	clock.Advance(2 * time.Second)
	assert.True(t, s.IsExpired())
}

func TestStore_NoExpiryIsExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		assert.True(t, s.IsExpired(), "empty store")
		assert.True(t, s.ExpiresAt().IsZero())

		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a"}))
		assert.True(t, s.IsExpired(), "no expires_in recorded")
	})
}

func TestStore_RefreshKeepsRenewalValue(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a1", RefreshToken: "r1", IDToken: "i1", ExpiresIn: 60}))
		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a2", ExpiresIn: 60}))

		assert.Equal(t, "a2", s.AccessToken())
		assert.Equal(t, "r1", s.RefreshToken())
		assert.Equal(t, "i1", s.IDToken())

		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a3", RefreshToken: "r3", ExpiresIn: 60}))
		assert.Equal(t, "r3", s.RefreshToken())
	})
}

func TestStore_ReplaceDropsPreviousSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a1", RefreshToken: "r1", IDToken: "i1", ExpiresIn: 60}))
		require.NoError(t, s.SaveIdentity(&identity.Identity{SubjectID: "user-a"}))

		require.NoError(t, s.Replace(&oauth.Token{AccessToken: "a2", ExpiresIn: 60}))

		assert.Equal(t, "a2", s.AccessToken())
		assert.Empty(t, s.RefreshToken())
		assert.Empty(t, s.IDToken())
		assert.Nil(t, s.Identity())
		assert.False(t, s.IsExpired())
	})
}

func TestStore_Identity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		id := &identity.Identity{SubjectID: "s", Username: "jdoe", Roles: []string{"admin"}}

		assert.ErrorIs(t, s.SaveIdentity(id), ErrNoSession)

		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a", ExpiresIn: 60}))
		require.NoError(t, s.SaveIdentity(id))

		got := s.Identity()
		require.NotNil(t, got)
		assert.Equal(t, "jdoe", got.Username)
		assert.True(t, got.HasRole("admin"))

		// A new credential invalidates the identity derived from the old one.
		require.NoError(t, s.Save(&oauth.Token{AccessToken: "b", ExpiresIn: 60}))
		assert.Nil(t, s.Identity())
	})
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		require.NoError(t, s.Clear())

		require.NoError(t, s.Save(&oauth.Token{AccessToken: "a", RefreshToken: "r", ExpiresIn: 60}))
		require.NoError(t, s.SavePending(&PendingAuthorization{State: "st"}))

		require.NoError(t, s.Clear())
		require.NoError(t, s.Clear())

		assert.Empty(t, s.AccessToken())
		assert.Empty(t, s.RefreshToken())
		assert.Nil(t, s.Identity())
		_, err := s.Load()
		assert.True(t, errors.Is(err, ErrNoSession))

		p, err := s.LoadPending()
		require.NoError(t, err, "pending authorization survives Clear")
		assert.Equal(t, "st", p.State)
	})
}

func TestStore_Pending(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *mock.MockClock) {
		_, err := s.LoadPending()
		assert.ErrorIs(t, err, ErrNoPending)

		want := &PendingAuthorization{
			FlowID:       "f-1",
			State:        "state-1",
			ReturnPath:   "/models",
			RedirectURI:  "http://localhost:8080/callback",
			CodeVerifier: "verifier",
			CreatedAt:    t0,
		}
		require.NoError(t, s.SavePending(want))

		got, err := s.LoadPending()
		require.NoError(t, err)
		assert.Equal(t, want.State, got.State)
		assert.Equal(t, want.ReturnPath, got.ReturnPath)
		assert.Equal(t, want.CodeVerifier, got.CodeVerifier)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

		require.NoError(t, s.DeletePending())
		require.NoError(t, s.DeletePending())
		_, err = s.LoadPending()
		assert.ErrorIs(t, err, ErrNoPending)

		assert.Error(t, s.SavePending(nil))
	})
}

func TestStore_IssuerRecorded(t *testing.T) {
	s := NewMemoryStore(WithIssuer("https://sso.example.com/realms/ml/"))
	require.NoError(t, s.Save(&oauth.Token{AccessToken: "a", ExpiresIn: 60}))

	sess, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://sso.example.com/realms/ml", sess.Issuer)
}
