package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loophabits/loop-client/internal/core/domain"
	"github.com/loophabits/loop-client/internal/core/services"
)

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) LoadToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockTokenStore) SaveToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockTokenStore) ClearToken(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockProfileAPI struct {
	mock.Mock
}

func (m *MockProfileAPI) Profile(ctx context.Context) (*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSessionService_Start(t *testing.T) {
	ctx := context.Background()
	testUser := &domain.User{ID: "user-1", Username: "giulia"}

	t.Run("Success: Valid persisted token resolves to an authenticated session", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)
		token := signedToken(t, time.Hour)

		tokens.On("LoadToken", mock.Anything).Return(token, nil)
		profile.On("Profile", mock.Anything).Return(testUser, nil)

		var propagated string
		svc := services.NewSessionService(tokens, profile, func(tok string) { propagated = tok })

		require.NoError(t, svc.Start(ctx))
		assert.True(t, svc.Ready())

		sess := svc.Session()
		assert.True(t, sess.IsAuthenticated)
		assert.Equal(t, "user-1", sess.UserID())
		assert.Equal(t, token, propagated)
	})

	t.Run("Success: No persisted token starts logged out and ready", func(t *testing.T) {
		tokens := new(MockTokenStore)
		tokens.On("LoadToken", mock.Anything).Return("", nil)

		svc := services.NewSessionService(tokens, new(MockProfileAPI), nil)
		require.NoError(t, svc.Start(ctx))

		assert.True(t, svc.Ready())
		assert.False(t, svc.Session().IsAuthenticated)
	})

	t.Run("Security: Expired token is cleared, session starts logged out", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)

		tokens.On("LoadToken", mock.Anything).Return(signedToken(t, -time.Hour), nil)
		tokens.On("ClearToken", mock.Anything).Return(nil)

		svc := services.NewSessionService(tokens, profile, nil)
		require.NoError(t, svc.Start(ctx))

		assert.True(t, svc.Ready())
		assert.False(t, svc.Session().IsAuthenticated)
		tokens.AssertCalled(t, "ClearToken", mock.Anything)
		profile.AssertNotCalled(t, "Profile")
	})

	t.Run("Security: Garbage token is cleared, session starts logged out", func(t *testing.T) {
		tokens := new(MockTokenStore)
		tokens.On("LoadToken", mock.Anything).Return("not-a-jwt", nil)
		tokens.On("ClearToken", mock.Anything).Return(nil)

		svc := services.NewSessionService(tokens, new(MockProfileAPI), nil)
		require.NoError(t, svc.Start(ctx))

		assert.True(t, svc.Ready())
		assert.False(t, svc.Session().IsAuthenticated)
	})

	t.Run("Security: Backend 401 on the profile fetch logs out", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)

		tokens.On("LoadToken", mock.Anything).Return(signedToken(t, time.Hour), nil)
		tokens.On("ClearToken", mock.Anything).Return(nil)
		profile.On("Profile", mock.Anything).Return(nil, fmt.Errorf("%w: revoked", domain.ErrUnauthorized))

		svc := services.NewSessionService(tokens, profile, nil)
		require.NoError(t, svc.Start(ctx))

		assert.True(t, svc.Ready())
		assert.False(t, svc.Session().IsAuthenticated)
	})

	t.Run("Fail: Transport error keeps the session not ready", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)

		tokens.On("LoadToken", mock.Anything).Return(signedToken(t, time.Hour), nil)
		profile.On("Profile", mock.Anything).Return(nil, errors.New("connection refused"))

		svc := services.NewSessionService(tokens, profile, nil)
		require.Error(t, svc.Start(ctx))
		assert.False(t, svc.Ready(), "loading gate must stay closed on a transport error")
	})

	t.Run("Success: Token store failure degrades to logged out", func(t *testing.T) {
		tokens := new(MockTokenStore)
		tokens.On("LoadToken", mock.Anything).Return("", errors.New("disk error"))

		svc := services.NewSessionService(tokens, new(MockProfileAPI), nil)
		require.NoError(t, svc.Start(ctx))
		assert.True(t, svc.Ready())
		assert.False(t, svc.Session().IsAuthenticated)
	})
}

func TestSessionService_Login(t *testing.T) {
	ctx := context.Background()
	testUser := &domain.User{ID: "user-1", Username: "giulia"}

	t.Run("Success: Login with the user object skips the profile fetch", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)
		token := signedToken(t, time.Hour)

		tokens.On("SaveToken", mock.Anything, token).Return(nil)

		svc := services.NewSessionService(tokens, profile, nil)
		require.NoError(t, svc.Login(ctx, token, testUser))

		assert.True(t, svc.Ready())
		assert.Equal(t, "user-1", svc.Session().UserID())
		profile.AssertNotCalled(t, "Profile")
	})

	t.Run("Success: Login without the user object fetches the profile", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)
		token := signedToken(t, time.Hour)

		tokens.On("SaveToken", mock.Anything, token).Return(nil)
		profile.On("Profile", mock.Anything).Return(testUser, nil)

		svc := services.NewSessionService(tokens, profile, nil)
		require.NoError(t, svc.Login(ctx, token, nil))
		assert.Equal(t, "user-1", svc.Session().UserID())
	})

	t.Run("Success: Persist failure still yields a memory-only session", func(t *testing.T) {
		tokens := new(MockTokenStore)
		token := signedToken(t, time.Hour)

		tokens.On("SaveToken", mock.Anything, token).Return(errors.New("disk full"))

		svc := services.NewSessionService(tokens, new(MockProfileAPI), nil)
		require.NoError(t, svc.Login(ctx, token, testUser))
		assert.True(t, svc.Session().IsAuthenticated)
	})

	t.Run("Fail: Empty token is rejected", func(t *testing.T) {
		svc := services.NewSessionService(new(MockTokenStore), new(MockProfileAPI), nil)
		assert.ErrorIs(t, svc.Login(ctx, "", testUser), domain.ErrNoToken)
	})
}

func TestSessionService_Logout(t *testing.T) {
	t.Run("Success: Logout clears the session synchronously", func(t *testing.T) {
		tokens := new(MockTokenStore)
		profile := new(MockProfileAPI)
		token := signedToken(t, time.Hour)

		tokens.On("SaveToken", mock.Anything, token).Return(nil)
		tokens.On("ClearToken", mock.Anything).Return(nil)

		var propagated []string
		svc := services.NewSessionService(tokens, profile, func(tok string) {
			propagated = append(propagated, tok)
		})

		testUser := &domain.User{ID: "user-1"}
		require.NoError(t, svc.Login(context.Background(), token, testUser))
		svc.Logout()

		sess := svc.Session()
		assert.False(t, sess.IsAuthenticated)
		assert.Empty(t, sess.Token)
		assert.True(t, svc.Ready())

		// Token propagation: set on login, blanked on logout.
		require.Len(t, propagated, 2)
		assert.Equal(t, token, propagated[0])
		assert.Empty(t, propagated[1])
		tokens.AssertCalled(t, "ClearToken", mock.Anything)
	})
}
