package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"SmargeChat/internal/backend"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	token    string
	loginErr error
	meErr    error
	calls    int
	meCalls  int
	lastReg  backend.RegisterRequest
}

func (f *fakeAPI) Login(ctx context.Context, req backend.LoginRequest) (backend.TokenResponse, error) {
	f.calls++
	if f.loginErr != nil {
		return backend.TokenResponse{}, f.loginErr
	}
	return backend.TokenResponse{AccessToken: f.token, TokenType: "bearer"}, nil
}

func (f *fakeAPI) Register(ctx context.Context, req backend.RegisterRequest) (backend.TokenResponse, error) {
	f.calls++
	f.lastReg = req
	return backend.TokenResponse{AccessToken: f.token, TokenType: "bearer"}, nil
}

func (f *fakeAPI) Me(ctx context.Context) (backend.User, error) {
	f.meCalls++
	if f.meErr != nil {
		return backend.User{}, f.meErr
	}
	return backend.User{ID: "u1", Username: "ada", Email: "ada@example.com"}, nil
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestStore_PersistsCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save(Credentials{Token: "abc", Email: "a@b.co"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "abc", reloaded.Token())
	assert.Equal(t, "a@b.co", reloaded.Credentials().Email)

	require.NoError(t, reloaded.Clear())
	assert.Empty(t, reloaded.Token())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, store.Load())
	assert.Empty(t, store.Token())
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := TokenExpiry(signed(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry("opaque-token")
	assert.False(t, ok)
}

func TestService_Login(t *testing.T) {
	api := &fakeAPI{token: signed(t, time.Now().Add(time.Hour))}
	store := NewStore("")
	svc := NewService(api, store, nil)

	require.NoError(t, svc.Login(context.Background(), " ada@example.com ", "pw"))
	assert.Equal(t, api.token, store.Token())
	assert.Equal(t, "ada@example.com", store.Credentials().Email)
	assert.True(t, svc.Authenticated())

	user, err := svc.Whoami(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)

	require.NoError(t, svc.Logout())
	assert.False(t, svc.Authenticated())
	_, err = svc.Whoami(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestService_Whoami(t *testing.T) {
	ctx := context.Background()

	t.Run("logged out", func(t *testing.T) {
		api := &fakeAPI{}
		svc := NewService(api, NewStore(""), nil)

		_, err := svc.Whoami(ctx)
		assert.ErrorIs(t, err, ErrNotLoggedIn)
		assert.Zero(t, api.meCalls, "no token means no request")
	})

	t.Run("stored token", func(t *testing.T) {
		api := &fakeAPI{}
		store := NewStore("")
		require.NoError(t, store.Save(Credentials{Token: "tok", Email: "ada@example.com"}))
		svc := NewService(api, store, nil)

		user, err := svc.Whoami(ctx)
		require.NoError(t, err)
		assert.Equal(t, backend.User{ID: "u1", Username: "ada", Email: "ada@example.com"}, user)
		assert.Equal(t, 1, api.meCalls)
	})

	t.Run("rejected token", func(t *testing.T) {
		api := &fakeAPI{meErr: &backend.HTTPStatusError{Op: "current user", StatusCode: 401, Status: "401 Unauthorized"}}
		store := NewStore("")
		require.NoError(t, store.Save(Credentials{Token: "stale"}))
		svc := NewService(api, store, nil)

		_, err := svc.Whoami(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrUnauthorized)
		assert.NotErrorIs(t, err, ErrNotLoggedIn)
	})
}

func TestService_LoginValidation(t *testing.T) {
	api := &fakeAPI{token: "t"}
	svc := NewService(api, NewStore(""), nil)

	require.Error(t, svc.Login(context.Background(), "not-an-email", "pw"))
	require.Error(t, svc.Login(context.Background(), "ada@example.com", ""))
	require.Error(t, svc.Register(context.Background(), "", "ada@example.com", "pw"))
	assert.Zero(t, api.calls, "invalid input never reaches the server")
}

func TestService_LoginRejected(t *testing.T) {
	api := &fakeAPI{loginErr: &backend.HTTPStatusError{Op: "login", StatusCode: 401, Status: "401 Unauthorized"}}
	store := NewStore("")
	svc := NewService(api, store, nil)

	err := svc.Login(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Empty(t, store.Token())
}

func TestService_LoginTransportFailure(t *testing.T) {
	api := &fakeAPI{loginErr: &backend.TransportError{Op: "login", Err: errors.New("refused")}}
	svc := NewService(api, NewStore(""), nil)

	err := svc.Login(context.Background(), "ada@example.com", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestService_Register(t *testing.T) {
	api := &fakeAPI{token: "opaque"}
	store := NewStore("")
	svc := NewService(api, store, nil)

	require.NoError(t, svc.Register(context.Background(), "ada", "ada@example.com", "pw"))
	assert.Equal(t, "ada", api.lastReg.Username)
	assert.Equal(t, "opaque", store.Token())
	assert.True(t, svc.Authenticated(), "tokens without exp are trusted until the server says otherwise")
}

func TestService_ExpiredToken(t *testing.T) {
	store := NewStore("")
	require.NoError(t, store.Save(Credentials{Token: signed(t, time.Now().Add(-time.Minute))}))
	svc := NewService(&fakeAPI{}, store, nil)
	assert.False(t, svc.Authenticated())
}
