package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/module/kv"
)

// Service manages mock logins and their sessions.
type Service struct {
	store  kv.Store
	keys   kv.Keyspace
	jwt    *JWTManager
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new auth service.
func NewService(store kv.Store, keys kv.Keyspace, jwtManager *JWTManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		keys:   keys,
		jwt:    jwtManager,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
}

// Login creates a mock user, persists its session and issues a token.
func (s *Service) Login(ctx context.Context) (*LoginResponse, error) {
	user := &User{
		ID:         fmt.Sprintf("%s%d_%s", MockUserPrefix, s.now().UnixMilli(), uuid.NewString()),
		Name:       MockUserName,
		Email:      MockUserEmail,
		AvatarURL:  MockAvatarURL,
		IsLoggedIn: true,
	}

	if err := kv.SetJSON(ctx, s.store, s.key(user.ID), user); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.String("identity", user.ID))
	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// Logout removes the session. Tokens issued for it stop working.
func (s *Service) Logout(ctx context.Context, identity string) error {
	if err := s.store.Delete(ctx, s.key(identity)); err != nil {
		s.logger.Error("failed to remove session", zap.String("identity", identity), zap.Error(err))
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info("user logged out", zap.String("identity", identity))
	return nil
}

// Current returns the session user.
func (s *Service) Current(ctx context.Context, identity string) (*User, error) {
	var user User
	if err := kv.GetJSON(ctx, s.store, s.key(identity), &user); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &user, nil
}

// Authenticate resolves a bearer token to a logged-in identity.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return "", err
	}

	user, err := s.Current(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if !user.IsLoggedIn {
		return "", ErrSessionNotFound
	}
	return user.ID, nil
}

func (s *Service) key(identity string) string {
	return s.keys.Key(kv.NamespaceSession, identity)
}
