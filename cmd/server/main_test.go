package main

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tellerline.org/internal/config"
	"tellerline.org/internal/credentials"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/obs"
	"tellerline.org/internal/roles"
	"tellerline.org/internal/session"
)

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testServices(t *testing.T) *services {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.AssertionSecret = "test-secret"
	svc, err := newServices(cfg, nil)
	require.NoError(t, err)
	return svc
}

func TestBootstrapAdminThenLogin(t *testing.T) {
	ctx := context.Background()
	svc := testServices(t)

	require.NoError(t, svc.bootstrapAdmin(ctx, "root, root@bank.test", "Adm1n-pass"))
	require.NoError(t, svc.bootstrapAdmin(ctx, "root,root@bank.test", "Adm1n-pass"), "second run is a no-op")

	m, token, err := svc.login(ctx, "root@bank.test", "Adm1n-pass")
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, m.State())

	p, err := svc.signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, credentials.RealmUser, p.Realm)
	require.Equal(t, roles.RoleAdministrator, p.Role)
}

func TestLoginFailure(t *testing.T) {
	svc := testServices(t)
	_, _, err := svc.login(context.Background(), "nobody", "pw")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestBootstrapAdminRejectsMalformedSpec(t *testing.T) {
	svc := testServices(t)
	require.Error(t, svc.bootstrapAdmin(context.Background(), "root", "pw"))
	require.ErrorIs(t, svc.bootstrapAdmin(context.Background(), "root,not-an-email", "pw"), errs.ErrValidation)
}

func TestEphemeralSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	svc, err := newServices(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, svc.signer)
}
