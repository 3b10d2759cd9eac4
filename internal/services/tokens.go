package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxTokensPerUser is the number of tokens a user may hold at once: one in use
// and one spare for rotation.
const MaxTokensPerUser = 2

type TokenService struct {
	DB     *gorm.DB
	Clock  Clock
	Config config.TokenConfig
	Cache  *TokenCache
}

func NewTokenService(db *gorm.DB, clock Clock, cfg config.TokenConfig, cache *TokenCache) *TokenService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenService{
		DB:     db,
		Clock:  clock,
		Config: cfg,
		Cache:  cache,
	}
}

// tokenTerms overrides the expiration and renewability a new token would
// otherwise derive from the user's existing tokens.
type tokenTerms struct {
	Expiration time.Time
	Renewable  bool
}

// evictions collects token values whose cached lookups must be dropped once
// the surrounding transaction commits.
type evictions []uuid.UUID

func (e *evictions) add(values ...uuid.UUID) {
	*e = append(*e, values...)
}

// lockUser takes a row lock on the user so token operations for the same user
// run one after another.
func lockUser(tx *gorm.DB, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func tokensForUser(tx *gorm.DB, userID uuid.UUID) ([]models.Token, error) {
	var tokens []models.Token
	err := tx.Where("user_id = ?", userID).
		Order("expiration ASC").
		Order("created_at ASC").
		Find(&tokens).Error
	return tokens, err
}

func setExpiration(tx *gorm.DB, token *models.Token, expiration time.Time) error {
	token.Expiration = expiration
	return tx.Model(&models.Token{}).Where("id = ?", token.ID).Update("expiration", expiration).Error
}

// CreateToken issues a new token for the user. A user holding one token gets
// a token that lasts at least as long as the old one, while the old one is cut
// down to the wind-down period.
func (s *TokenService) CreateToken(ctx context.Context, user *models.User) (*models.Token, error) {
	return s.createToken(ctx, user.ID, nil)
}

// CreateTokenWith issues a token with a fixed expiration and renewability,
// still subject to the per-user limit.
func (s *TokenService) CreateTokenWith(ctx context.Context, user *models.User, expiration time.Time, renewable bool) (*models.Token, error) {
	return s.createToken(ctx, user.ID, &tokenTerms{Expiration: expiration, Renewable: renewable})
}

func (s *TokenService) createToken(ctx context.Context, userID uuid.UUID, terms *tokenTerms) (*models.Token, error) {
	var created *models.Token
	var evicted evictions

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.createTokenTx(tx, userID, terms, &evicted)
		created = token
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Cache.Evict(ctx, evicted...)
	logger.InfoWithUser(userID.String(), "token_created", map[string]interface{}{
		"token_id":   created.ID.String(),
		"expiration": created.Expiration,
		"renewable":  created.Renewable,
	})
	return created, nil
}

func (s *TokenService) createTokenTx(tx *gorm.DB, userID uuid.UUID, terms *tokenTerms, evicted *evictions) (*models.Token, error) {
	if _, err := lockUser(tx, userID); err != nil {
		return nil, err
	}

	existing, err := tokensForUser(tx, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= MaxTokensPerUser {
		return nil, ErrTooManyTokens
	}

	now := s.Clock.Now()
	token := &models.Token{
		UserID:     userID,
		Expiration: now.Add(s.Config.Validity()),
		Renewable:  true,
	}

	if len(existing) > 0 {
		token.Renewable = existing[0].Renewable
		windDown := now.Add(s.Config.WindDown())
		for i := range existing {
			current := &existing[i]
			if current.Expiration.After(token.Expiration) {
				token.Expiration = current.Expiration
			}
			if current.Expiration.After(windDown) {
				if err := setExpiration(tx, current, windDown); err != nil {
					return nil, err
				}
				evicted.add(current.Token)
			}
		}
	}

	if terms != nil {
		token.Expiration = terms.Expiration
		token.Renewable = terms.Renewable
	}

	if err := tx.Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

// ExtendTokensOnReactivation pushes every token of the user to at least delta
// from now without ever shortening one. It refuses when no token is renewable.
func (s *TokenService) ExtendTokensOnReactivation(ctx context.Context, user *models.User, delta time.Duration) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.extendTokensTx(tx, user.ID, delta)
	})
}

func (s *TokenService) extendTokensTx(tx *gorm.DB, userID uuid.UUID, delta time.Duration) error {
	if _, err := lockUser(tx, userID); err != nil {
		return err
	}

	tokens, err := tokensForUser(tx, userID)
	if err != nil {
		return err
	}

	renewable := false
	for _, t := range tokens {
		if t.Renewable {
			renewable = true
			break
		}
	}
	if !renewable {
		return ErrNoRenewableToken
	}

	floor := s.Clock.Now().Add(delta)
	for i := range tokens {
		extended := tokens[i].Expiration.Add(delta)
		if floor.After(extended) {
			extended = floor
		}
		if err := setExpiration(tx, &tokens[i], extended); err != nil {
			return err
		}
	}

	logger.InfoWithUser(userID.String(), "tokens_extended", map[string]interface{}{
		"count": len(tokens),
		"delta": delta.String(),
	})
	return nil
}

// DeleteToken removes one of the requester's tokens. The last token is only
// expired. Otherwise the surviving token with the latest expiration inherits
// the deleted token's usage statistics and, if later, its expiration.
func (s *TokenService) DeleteToken(ctx context.Context, tokenID uuid.UUID, requester *models.User) error {
	var evicted evictions

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, requester.ID); err != nil {
			return err
		}

		var token models.Token
		if err := tx.First(&token, "id = ?", tokenID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if token.UserID != requester.ID {
			return ErrUnauthorizedTokenAccess
		}

		tokens, err := tokensForUser(tx, requester.ID)
		if err != nil {
			return err
		}
		evicted.add(token.Token)

		if len(tokens) < MaxTokensPerUser {
			return setExpiration(tx, &token, s.Clock.Now())
		}

		var longest *models.Token
		for i := range tokens {
			if tokens[i].ID == token.ID {
				continue
			}
			if longest == nil || tokens[i].Expiration.After(longest.Expiration) {
				longest = &tokens[i]
			}
		}

		if token.Expiration.After(longest.Expiration) {
			if err := setExpiration(tx, longest, token.Expiration); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.TokenStats{}).
			Where("token_id = ?", token.ID).
			Update("token_id", longest.ID).Error; err != nil {
			return err
		}

		return tx.Unscoped().Delete(&token).Error
	})
	if err != nil {
		return err
	}

	s.Cache.Evict(ctx, evicted...)
	logger.InfoWithUser(requester.ID.String(), "token_deleted", map[string]interface{}{
		"token_id": tokenID.String(),
	})
	return nil
}

// ExpireToken ends a token's validity immediately without deleting it.
func (s *TokenService) ExpireToken(ctx context.Context, tokenID uuid.UUID) (*models.Token, error) {
	var token models.Token

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&token, "id = ?", tokenID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if _, err := lockUser(tx, token.UserID); err != nil {
			return err
		}
		return setExpiration(tx, &token, s.Clock.Now())
	})
	if err != nil {
		return nil, err
	}

	s.Cache.Evict(ctx, token.Token)
	return &token, nil
}

func (s *TokenService) ListTokens(ctx context.Context, userID uuid.UUID) ([]models.Token, error) {
	return tokensForUser(s.DB.WithContext(ctx), userID)
}

func (s *TokenService) ListValidTokens(ctx context.Context, userID uuid.UUID) ([]models.Token, error) {
	var tokens []models.Token
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND expiration > ?", userID, s.Clock.Now()).
		Order("expiration ASC").
		Find(&tokens).Error
	return tokens, err
}

// Authenticate resolves an API token value to its unexpired token record.
func (s *TokenService) Authenticate(ctx context.Context, value uuid.UUID) (*CachedToken, error) {
	now := s.Clock.Now()

	if cached, ok := s.Cache.Get(ctx, value); ok && cached.Expiration.After(now) {
		return cached, nil
	}

	var token models.Token
	if err := s.DB.WithContext(ctx).First(&token, "token = ?", value).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if token.IsExpired(now) {
		return nil, ErrTokenExpired
	}

	cached := CachedToken{TokenID: token.ID, UserID: token.UserID, Expiration: token.Expiration}
	s.Cache.Set(ctx, value, cached)
	return &cached, nil
}
