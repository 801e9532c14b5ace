package session

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/meshport/pkg/portal"
)

type fakeAuth struct {
	calls int
	res   *portal.LoginResult
	err   error
}

func (f *fakeAuth) Login(ctx context.Context, creds portal.Credentials) (*portal.LoginResult, error) {
	f.calls++
	return f.res, f.err
}

func (f *fakeAuth) BaseURL() string { return "http://backend:8007" }

func TestLogin(t *testing.T) {
	auth := &fakeAuth{res: &portal.LoginResult{Token: "tok", IsAdmin: true}}

	sess, err := Login(context.Background(), auth, portal.Credentials{Username: " ada ", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "ada", sess.Username)
	assert.Equal(t, "tok", sess.Token)
	assert.True(t, sess.IsAdmin)
	assert.Equal(t, "http://backend:8007", sess.BackendURL)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.Equal(t, 1, auth.calls)
}

func TestLogin_ValidatesBeforeNetwork(t *testing.T) {
	tests := []portal.Credentials{
		{Username: "", Password: "pw"},
		{Username: "   ", Password: "pw"},
		{Username: "ada", Password: ""},
	}
	for _, creds := range tests {
		auth := &fakeAuth{}
		_, err := Login(context.Background(), auth, creds)
		require.ErrorIs(t, err, ErrCredentialsRequired)
		assert.Equal(t, "Username and password are required.", err.Error())
		assert.Zero(t, auth.calls)
	}
}

func TestLogin_PropagatesBackendError(t *testing.T) {
	backendErr := errors.New("boom")
	_, err := Login(context.Background(), &fakeAuth{err: backendErr}, portal.Credentials{Username: "a", Password: "b"})
	assert.ErrorIs(t, err, backendErr)
}

func TestSession_NilSafe(t *testing.T) {
	var s *Session
	assert.False(t, s.Authenticated())
	assert.Equal(t, "", s.BearerToken())
	assert.Equal(t, "", s.User())
	assert.False(t, s.ValidFor("http://x"))
}

func TestSession_ValidFor(t *testing.T) {
	s := &Session{Token: "t", BackendURL: "http://backend:8007/"}
	assert.True(t, s.ValidFor("http://backend:8007"))
	assert.False(t, s.ValidFor("http://other:8007"))
}

func TestStore_SaveLoadClear(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)

	_, err := st.Load()
	require.ErrorIs(t, err, ErrNoSession)

	in := &Session{Username: "ada", Token: "tok", IsAdmin: false, BackendURL: "http://b"}
	require.NoError(t, st.Save(in))

	info, err := os.Stat(st.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, in.Username, out.Username)
	assert.Equal(t, in.Token, out.Token)

	require.NoError(t, st.Clear())
	_, err = st.Load()
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, st.Clear(), "clearing twice is fine")
}

func TestStore_SaveRejectsEmptySession(t *testing.T) {
	st := NewStore(t.TempDir())
	require.Error(t, st.Save(nil))
	require.Error(t, st.Save(&Session{Username: "ada"}))
}

func TestStore_LoadCorrupt(t *testing.T) {
	st := NewStore(t.TempDir())
	require.NoError(t, os.WriteFile(st.Path(), []byte("{not json"), 0o600))

	_, err := st.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}
