package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tellerline.org/internal/auth"
	"tellerline.org/internal/config"
	"tellerline.org/internal/credentials"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/ledger"
	"tellerline.org/internal/links"
	"tellerline.org/internal/obs"
	"tellerline.org/internal/roles"
	"tellerline.org/internal/session"
	"tellerline.org/internal/store/pg"
)

// services holds the collaborators every principal session shares.
type services struct {
	credentials *credentials.Service
	registry    *links.Registry
	processor   ledger.Processor
	signer      *auth.Signer
}

// newServices backs realms and links with Postgres when store is non-nil and
// with in-memory stores otherwise.
func newServices(cfg config.Config, store *pg.Store) (*services, error) {
	var (
		credStore credentials.Store = credentials.NewMemoryStore()
		linkStore links.Store       = links.NewMemoryStore()
	)
	if store != nil {
		credStore = store
		linkStore = store
	}

	cost := cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	creds, err := credentials.NewService(credStore, credentials.BcryptHasher{Cost: cost})
	if err != nil {
		return nil, err
	}
	registry, err := links.NewRegistry(linkStore)
	if err != nil {
		return nil, err
	}

	secret := cfg.Auth.AssertionSecret
	if strings.TrimSpace(secret) == "" {
		log := obs.Logger()
		log.Warn().Msg("assertion secret not configured, generating an ephemeral one")
		secret = uuid.NewString()
	}
	signer, err := auth.NewSigner(secret, cfg.Auth.AssertionTTL.Duration)
	if err != nil {
		return nil, err
	}

	return &services{
		credentials: creds,
		registry:    registry,
		processor:   ledger.NewInMemory(nil),
		signer:      signer,
	}, nil
}

// newSession returns an Anonymous session for one principal connection.
// newSession and login are the entry points the enclosing web layer calls;
// this process serves only the ops surface.
func (s *services) newSession() (*session.Manager, error) {
	return session.New(s.credentials, s.registry, s.processor)
}

// login opens a session, authenticates it and mints the principal assertion
// the caller hands back on later requests.
func (s *services) login(ctx context.Context, identifier, password string) (*session.Manager, string, error) {
	m, err := s.newSession()
	if err != nil {
		return nil, "", err
	}
	p, err := m.Login(ctx, identifier, password)
	if err != nil {
		return nil, "", err
	}
	token, _, err := s.signer.Sign(p)
	if err != nil {
		return nil, "", err
	}
	return m, token, nil
}

// bootstrapAdmin registers an Administrator in the user realm. An existing
// credential with the same username or email is left untouched.
func (s *services) bootstrapAdmin(ctx context.Context, spec, password string) error {
	username, email, ok := strings.Cut(spec, ",")
	if !ok {
		return fmt.Errorf("bootstrap admin %q: want username,email", spec)
	}
	_, err := s.credentials.Register(ctx, credentials.Registration{
		Realm:    credentials.RealmUser,
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Password: password,
		RoleID:   roles.RoleAdministrator,
	})
	if errors.Is(err, errs.ErrConflict) {
		return nil
	}
	return err
}
