package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/services/auth-service/models"
	"emergency-rescue-system/services/auth-service/utils"

	"github.com/google/uuid"
)

var (
	errInvalidCredentials = errors.New("invalid email or password")
	errInvalidToken       = errors.New("invalid or expired refresh token")
	errNotRescuer         = errors.New("only rescuers have availability")
	errInvalidIdentity    = errors.New("identity assertion rejected")
)

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

func isValidPassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters"
	}
	if len(password) > 72 {
		return false, "Password too long"
	}
	return true, ""
}

type registerInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func (in *registerInput) validate() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)

	if in.Email == "" || in.Password == "" {
		return &validationError{"Email and Password are required"}
	}
	if !isValidEmail(in.Email) {
		return &validationError{"Invalid email format"}
	}
	if ok, msg := isValidPassword(in.Password); !ok {
		return &validationError{msg}
	}
	return nil
}

// tokenPair is returned by every call that establishes a session.
type tokenPair struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int64           `json:"expires_in"`
	User         userView        `json:"user"`
	Profile      *models.Profile `json:"profile"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authService struct {
	store         userStore
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time

	// identitySecret verifies broker assertions; empty disables federated
	// sign-in.
	identitySecret []byte
}

func newAuthService(store userStore, secret []byte, accessExpiry, refreshExpiry time.Duration) *authService {
	return &authService{
		store:         store,
		secret:        secret,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		now:           time.Now,
	}
}

// withFederation enables FederatedSignIn for assertions signed with secret.
func (s *authService) withFederation(secret []byte) *authService {
	s.identitySecret = secret
	return s
}

// Register creates an account with a "user" profile holding the sign-up name
// and phone, and signs it in.
func (s *authService) Register(ctx context.Context, in registerInput) (*tokenPair, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{ID: uuid.NewString(), Email: in.Email, Password: hashed}
	profile := &models.Profile{
		FullName:     in.Name,
		Phone:        in.Phone,
		Role:         middleware.RoleUser,
		Availability: models.AvailabilityOffline,
	}
	if err := s.store.CreateUser(ctx, user, profile); err != nil {
		return nil, err
	}

	log.Printf("[OK] User registered - ID: %s", user.ID)
	return s.issue(ctx, user, profile)
}

func (s *authService) Login(ctx context.Context, email, password string) (*tokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &validationError{"Email and Password are required"}
	}

	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, errNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		return nil, errInvalidCredentials
	}

	profile, err := s.store.Profile(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	log.Printf("[OK] User logged in - ID: %s, Role: %s", user.ID, profile.Role)
	return s.issue(ctx, user, profile)
}

// FederatedSignIn exchanges a broker identity assertion for a session. The
// account is matched on the verified email and created with a "user" profile
// on first sign-in.
func (s *authService) FederatedSignIn(ctx context.Context, idToken string) (*tokenPair, error) {
	claims, err := utils.ParseIdentityToken(s.identitySecret, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidIdentity, err)
	}

	user, err := s.store.UserByEmail(ctx, claims.Email)
	if errors.Is(err, errNotFound) {
		user, err = s.createFederatedUser(ctx, claims)
		// A concurrent first sign-in already created the account.
		if errors.Is(err, errEmailTaken) {
			user, err = s.store.UserByEmail(ctx, claims.Email)
		}
	}
	if err != nil {
		return nil, err
	}

	profile, err := s.store.Profile(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	log.Printf("[OK] Federated sign-in - ID: %s, Provider: %s", user.ID, claims.Provider)
	return s.issue(ctx, user, profile)
}

func (s *authService) createFederatedUser(ctx context.Context, claims *utils.IdentityClaims) (*models.User, error) {
	// Federated accounts have no usable password.
	unusable, _, err := utils.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(unusable[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{ID: uuid.NewString(), Email: claims.Email, Password: hashed}
	profile := &models.Profile{
		FullName:     strings.TrimSpace(claims.Name),
		Role:         middleware.RoleUser,
		Availability: models.AvailabilityOffline,
	}
	if err := s.store.CreateUser(ctx, user, profile); err != nil {
		return nil, err
	}
	log.Printf("[OK] Federated user created - ID: %s", user.ID)
	return user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued with the role currently on the profile.
func (s *authService) Refresh(ctx context.Context, raw string) (*tokenPair, error) {
	if raw == "" {
		return nil, errInvalidToken
	}
	stored, err := s.store.ConsumeRefreshToken(ctx, utils.HashToken(raw), s.now())
	if errors.Is(err, errNotFound) {
		return nil, errInvalidToken
	}
	if err != nil {
		return nil, err
	}

	user, err := s.store.UserByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.Profile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, profile)
}

// Logout revokes the refresh token. Unknown tokens are not an error.
func (s *authService) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.store.RevokeRefreshToken(ctx, utils.HashToken(raw))
}

func (s *authService) Me(ctx context.Context, userID string) (*models.Profile, error) {
	return s.store.Profile(ctx, userID)
}

func (s *authService) UpdateProfile(ctx context.Context, userID, fullName, phone string) (*models.Profile, error) {
	return s.store.UpdateProfile(ctx, userID, strings.TrimSpace(fullName), strings.TrimSpace(phone))
}

// SetAvailability flips a rescuer between online and offline. The profile
// role is checked, not the token's copy.
func (s *authService) SetAvailability(ctx context.Context, userID string, online bool) (*models.Profile, error) {
	profile, err := s.store.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.Role != middleware.RoleRescue {
		return nil, errNotRescuer
	}

	availability := models.AvailabilityOffline
	if online {
		availability = models.AvailabilityOnline
	}
	profile, err = s.store.SetAvailability(ctx, userID, availability)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Rescuer %s is now %s", userID, availability)
	return profile, nil
}

func (s *authService) issue(ctx context.Context, user *models.User, profile *models.Profile) (*tokenPair, error) {
	access, err := utils.GenerateAccessToken(s.secret, s.accessExpiry, user.ID, user.Email, profile.FullName, profile.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	raw, hash, err := utils.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	err = s.store.SaveRefreshToken(ctx, &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.refreshExpiry),
	})
	if err != nil {
		return nil, err
	}

	return &tokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
		User:         userView{ID: user.ID, Email: user.Email},
		Profile:      profile,
	}, nil
}
