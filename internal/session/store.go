package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/thereayou/chatlink/internal/models"
)

const (
	tokenKey   = "session:token"
	profileKey = "session:profile"
)

var ErrNoSession = errors.New("no saved session")

// Session — то немногое, что клиент хранит между запусками:
// токен и минимальный профиль пользователя.
type Session struct {
	Token string
	User  models.User
}

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	profile, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.rdb.Set(ctx, tokenKey, sess.Token, 0).Err(); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.rdb.Set(ctx, profileKey, profile, 0).Err(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*Session, error) {
	token, err := s.rdb.Get(ctx, tokenKey).Result()
	if err == redis.Nil {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	profile, err := s.rdb.Get(ctx, profileKey).Result()
	if err == redis.Nil {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	sess := &Session{Token: token}
	if err := json.Unmarshal([]byte(profile), &sess.User); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return sess, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, tokenKey, profileKey).Err()
}
