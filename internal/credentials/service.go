package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"tellerline.org/internal/errs"
	"tellerline.org/internal/obs"
	"tellerline.org/internal/roles"
)

// Service authenticates and registers credentials across every realm.
type Service struct {
	store  Store
	hasher Hasher
	log    zerolog.Logger
	now    func() time.Time

	decoyOnce sync.Once
	decoy     string
}

// Option configures Service.
type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the realm store with the hashing collaborator.
func NewService(store Store, hasher Hasher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	s := &Service{
		store:  store,
		hasher: hasher,
		log:    obs.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate looks the identifier up in every realm and verifies the
// password through the hasher. Unknown identifiers and wrong passwords both
// return errs.ErrInvalidCredentials; more than one realm claiming the
// identifier returns errs.ErrIntegrityViolation.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		s.verifyDecoy(password)
		obs.ObserveLogin(obs.LoginUnknownIdentity)
		return Identity{}, errs.ErrInvalidCredentials
	}

	matches, err := s.lookup(ctx, identifier)
	if err != nil {
		obs.ObserveLogin(obs.LoginError)
		return Identity{}, err
	}

	switch len(matches) {
	case 0:
		s.verifyDecoy(password)
		obs.ObserveLogin(obs.LoginUnknownIdentity)
		s.log.Debug().Str("reason", obs.LoginUnknownIdentity).Msg("authentication failed")
		return Identity{}, errs.ErrInvalidCredentials
	case 1:
	default:
		realms := make([]string, 0, len(matches))
		for _, m := range matches {
			realms = append(realms, string(m.Realm))
		}
		obs.ObserveLogin(obs.LoginIntegrity)
		s.log.Error().Strs("realms", realms).Msg("identifier claimed by more than one realm")
		return Identity{}, fmt.Errorf("%w: identifier present in realms %s", errs.ErrIntegrityViolation, strings.Join(realms, ","))
	}

	cred := matches[0]
	if !s.hasher.Verify(password, cred.PasswordHash) {
		obs.ObserveLogin(obs.LoginBadPassword)
		s.log.Debug().Str("reason", obs.LoginBadPassword).Msg("authentication failed")
		return Identity{}, errs.ErrInvalidCredentials
	}

	obs.ObserveLogin(obs.LoginSuccess)
	return Identity{
		Realm:       cred.Realm,
		PrincipalID: cred.ID,
		RoleID:      cred.EffectiveRole(),
		PersonID:    cred.PersonID,
		Username:    cred.Username,
	}, nil
}

func (s *Service) lookup(ctx context.Context, identifier string) ([]Credential, error) {
	byEmail := strings.Contains(identifier, "@")
	if byEmail {
		identifier = normalizeEmail(identifier)
	}
	var matches []Credential
	for _, realm := range Realms() {
		var (
			cred Credential
			err  error
		)
		if byEmail {
			cred, err = s.store.FindByEmail(ctx, realm, identifier)
		} else {
			cred, err = s.store.FindByUsername(ctx, realm, identifier)
		}
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup %s realm: %w", realm, err)
		}
		cred.Realm = realm
		matches = append(matches, cred)
	}
	return matches, nil
}

// verifyDecoy spends one hash comparison so unknown identifiers take as long as wrong passwords.
func (s *Service) verifyDecoy(password string) {
	s.decoyOnce.Do(func() {
		s.decoy, _ = s.hasher.Hash("tellerline-decoy-password")
	})
	_ = s.hasher.Verify(password, s.decoy)
}

// Registration is the input to Register.
type Registration struct {
	Realm    Realm
	Username string
	Email    string
	Password string
	RoleID   roles.RoleID
	PersonID *int64
}

// Register validates the registration against the realm policy, hashes the
// password and stores the credential.
func (s *Service) Register(ctx context.Context, reg Registration) (Credential, error) {
	policy, ok := PolicyFor(reg.Realm)
	if !ok {
		return Credential{}, errs.Validationf("unknown realm %q", reg.Realm)
	}
	username := strings.TrimSpace(reg.Username)
	if username == "" {
		return Credential{}, errs.Validationf("username is required")
	}
	if utf8.RuneCountInString(username) > policy.MaxUsername {
		return Credential{}, errs.Validationf("username exceeds %d characters", policy.MaxUsername)
	}
	if strings.Contains(username, "@") {
		return Credential{}, errs.Validationf("username must not contain @")
	}
	email := normalizeEmail(reg.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Credential{}, errs.Validationf("valid email is required")
	}
	if utf8.RuneCountInString(email) > policy.MaxEmail {
		return Credential{}, errs.Validationf("email exceeds %d characters", policy.MaxEmail)
	}
	if reg.Password == "" {
		return Credential{}, errs.Validationf("password is required")
	}
	switch {
	case policy.RoleScoped && !reg.RoleID.Valid():
		return Credential{}, errs.Validationf("unknown role %d", reg.RoleID)
	case !policy.RoleScoped && reg.RoleID != 0:
		return Credential{}, errs.Validationf("%s realm does not carry a role", reg.Realm)
	}

	digest, err := s.hasher.Hash(reg.Password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return Credential{}, errs.Validationf("password exceeds 72 bytes")
	}
	if err != nil {
		return Credential{}, fmt.Errorf("hash password: %w", err)
	}
	if len(digest) != policy.DigestLength {
		return Credential{}, errs.Validationf("digest length %d, realm requires %d", len(digest), policy.DigestLength)
	}

	cred := Credential{
		Realm:        reg.Realm,
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		RoleID:       reg.RoleID,
		PersonID:     reg.PersonID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, &cred); err != nil {
		return Credential{}, err
	}
	s.log.Info().Str("realm", string(cred.Realm)).Int64("principal_id", cred.ID).Msg("credential registered")
	return cred, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
