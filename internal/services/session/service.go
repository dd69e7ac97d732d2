package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/redis"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// MaxHistory is the number of messages kept per conversation
const MaxHistory = 20

const historyKeyPrefix = "beaglemind:history:"

type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// HistoryStore keeps the recent messages of each web conversation
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, messages ...models.Message) error
	Load(ctx context.Context, sessionID string) ([]models.Message, error)
	Clear(ctx context.Context, sessionID string) error
}

type RedisStore struct {
	redisService *redis.Service
	ttl          time.Duration
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions *cache.Cache
}

type Service struct {
	store    HistoryStore
	lifetime time.Duration
}

func NewService(redisService *redis.Service) *Service {
	l := logger.For(logger.SERVICE)
	lifetime := config.GetSessionLifetime()

	var store HistoryStore
	if redisService != nil {
		if err := redisService.Ping(context.Background()); err != nil {
			l.Warn().Err(err).Msg("Redis unreachable, conversation history stays in memory")
			store = NewMemoryStore(lifetime)
		} else {
			store = &RedisStore{redisService: redisService, ttl: lifetime}
		}
	} else {
		store = NewMemoryStore(lifetime)
	}

	return &Service{store: store, lifetime: lifetime}
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{sessions: cache.New(ttl, 2*ttl)}
}

// History is the store backing this service
func (s *Service) History() HistoryStore {
	return s.store
}

// Redis Store implementation
func (rs *RedisStore) Append(ctx context.Context, sessionID string, messages ...models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		values = append(values, string(data))
	}
	return rs.redisService.AppendCapped(ctx, historyKeyPrefix+sessionID, MaxHistory, rs.ttl, values...)
}

func (rs *RedisStore) Load(ctx context.Context, sessionID string) ([]models.Message, error) {
	items, err := rs.redisService.Range(ctx, historyKeyPrefix+sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(items))
	for _, item := range items {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("corrupt history entry: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (rs *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return rs.redisService.Delete(ctx, historyKeyPrefix+sessionID)
}

// Memory Store implementation
func (ms *MemoryStore) Append(_ context.Context, sessionID string, messages ...models.Message) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var history []models.Message
	if v, ok := ms.sessions.Get(sessionID); ok {
		history = v.([]models.Message)
	}
	history = append(append([]models.Message(nil), history...), messages...)
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	ms.sessions.SetDefault(sessionID, history)
	return nil
}

func (ms *MemoryStore) Load(_ context.Context, sessionID string) ([]models.Message, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	v, ok := ms.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	history := v.([]models.Message)
	return append([]models.Message(nil), history...), nil
}

func (ms *MemoryStore) Clear(_ context.Context, sessionID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions.Delete(sessionID)
	return nil
}

// EnsureSession returns the session id carried by the request cookie, or
// issues a new signed cookie when there is none or it does not verify.
func (s *Service) EnsureSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, err := s.SessionID(r); err == nil && id != "" {
		return id, nil
	}

	sessionID := uuid.New().String()
	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        sessionID,
		},
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(config.GetJWTSecret())
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     config.GetSessionCookieName(),
		Value:    signedToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		Expires:  now.Add(s.lifetime),
	})
	return sessionID, nil
}

// SessionID verifies the session cookie. A request without one yields an
// empty id and no error.
func (s *Service) SessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(config.GetSessionCookieName())
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		return "", err
	}

	token, err := jwt.ParseWithClaims(cookie.Value, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return config.GetJWTSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", errors.New("invalid session token")
	}
	return claims.SessionID, nil
}

// ClearSession forgets the conversation and expires the cookie
func (s *Service) ClearSession(w http.ResponseWriter, r *http.Request) {
	if id, err := s.SessionID(r); err == nil && id != "" {
		if err := s.store.Clear(r.Context(), id); err != nil {
			logger.For(logger.SERVICE).Warn().Err(err).Msg("Failed to clear conversation history")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     config.GetSessionCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
}
