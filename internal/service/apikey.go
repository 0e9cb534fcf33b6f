package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inference-gate/llm-gateway/internal/identity"
	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/ratelimit"
	"github.com/inference-gate/llm-gateway/internal/repository"
	"github.com/inference-gate/llm-gateway/internal/storage"
)

// KeyPrefix marks gateway-issued API keys in Authorization headers.
const KeyPrefix = "g4f_"

// ErrKeyQuotaExceeded is returned when a user already holds as many active
// keys as their tier allows.
var ErrKeyQuotaExceeded = fmt.Errorf("api key quota exceeded for tier")

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
	policy     *ratelimit.Policy
}

func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient, policy *ratelimit.Policy) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
		policy:     policy,
	}
}

// HashKey returns the stored digest of a plain API key.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Create issues a new key for a user, enforcing the tier's key quota.
// The plain key is returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, userID, name string, tier identity.Tier) (string, *models.APIKey, error) {
	limits := s.policy.LimitsFor(identity.User(userID, tier))
	if limits.APIKeys > 0 {
		count, err := s.repository.CountActiveByUser(ctx, userID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to count api keys: %w", err)
		}
		if count >= int64(limits.APIKeys) {
			return "", nil, ErrKeyQuotaExceeded
		}
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := KeyPrefix + base64.URLEncoding.EncodeToString(keyBytes)

	apiKey := models.APIKey{
		KeyHash: HashKey(key),
		Prefix:  key[:8],
		Name:    name,
		UserID:  userID,
		Tier:    string(tier),
	}
	apiKey.IsActive = true

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, &apiKey, nil
}

// Validate resolves a plain key to its record, consulting the redis cache
// before Postgres. Expired temporary keys validate as absent.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := HashKey(key)

	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)
	cached, err := s.redis.Get(ctx, cacheKey)

	if err == nil && cached != "" {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			if apiKey.Expired(time.Now()) {
				return nil, nil
			}
			return &apiKey, nil
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if apiKey == nil || apiKey.Expired(time.Now()) {
		return nil, nil
	}

	apiKeyJSON, _ := json.Marshal(apiKey)
	s.redis.Set(ctx, cacheKey, apiKeyJSON, 5*time.Minute)

	return apiKey, nil
}

func (s *APIKeyService) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	return s.repository.ListByUser(ctx, userID)
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)

	return s.repository.Delete(ctx, id)
}

// PruneExpired removes temporary keys whose expiry has passed.
func (s *APIKeyService) PruneExpired(ctx context.Context) (int64, error) {
	return s.repository.DeleteExpired(ctx, time.Now())
}

// UpdateLastUsed touches the key's last-used timestamp. Called from a
// goroutine so the request path never waits on it.
func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	s.repository.UpdateLastUsed(ctx, id)
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	s.redis.Del(ctx, fmt.Sprintf("apikey:cache:%s", apiKey.KeyHash))
}
