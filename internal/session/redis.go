package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// RedisStore keeps each session as a JSON value with the session's TTL.
// Reissues use WATCH/MULTI so a concurrent logout is never resurrected.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

type record struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Roles          []string  `json:"roles"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (r record) claims(sessionID string) *tenancy.Claims {
	return &tenancy.Claims{
		SessionID:      sessionID,
		UserID:         r.UserID,
		OrganizationID: r.OrganizationID,
		Roles:          tenancy.NormalizeRoles(r.Roles),
		IssuedAt:       r.IssuedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func (s *RedisStore) Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*tenancy.Claims, error) {
	claims := emptyClaims(NewID(), userID, s.now().UTC(), ttl)
	data, err := json.Marshal(record{
		UserID:    userID,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+claims.SessionID, data, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("creating session: id %s already exists", claims.SessionID)
	}
	return claims, nil
}

func (s *RedisStore) GetClaims(ctx context.Context, id tenancy.Identity) (*tenancy.Claims, error) {
	rec, err := s.get(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return rec.claims(id.SessionID), nil
}

func (s *RedisStore) ReissueClaims(ctx context.Context, id tenancy.Identity, orgID uuid.UUID, roles []string) (*tenancy.Claims, error) {
	key := keyPrefix + id.SessionID
	var out *tenancy.Claims

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}

		current := rec.claims(id.SessionID)
		if current.Matches(orgID, roles) {
			out = current
			return nil
		}

		rec.OrganizationID = orgID
		rec.Roles = tenancy.NormalizeRoles(roles)
		rec.IssuedAt = s.now().UTC()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true, Mode: "XX"})
			return nil
		}); err != nil {
			return err
		}
		out = rec.claims(id.SessionID)
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable, id tenancy.Identity) (*record, error) {
	data, err := c.Get(ctx, keyPrefix+id.SessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, tenancy.ErrSessionNotFound
		}
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id.SessionID, err)
	}
	if rec.UserID != id.UserID || !s.now().Before(rec.ExpiresAt) {
		return nil, tenancy.ErrSessionNotFound
	}
	return &rec, nil
}
