package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"
)

type Claims struct {
	SessionID string `json:"sid"`
	Room      string `json:"room"`
	jwt.RegisteredClaims
}

// TokenProvider issues rooms on the media service: the room is registered in
// Redis under room:<name> and the join token is an HS256 JWT bound to it.
type TokenProvider struct {
	rdb     *redis.Client
	secret  []byte
	baseURL string
	ttl     time.Duration
	ice     []webrtc.ICEServer
	now     func() time.Time
}

func NewTokenProvider(rdb *redis.Client, secret, baseURL string, ttl time.Duration, ice []webrtc.ICEServer) *TokenProvider {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenProvider{
		rdb:     rdb,
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		ice:     ice,
		now:     time.Now,
	}
}

func roomKey(name string) string { return "room:" + name }

func (p *TokenProvider) ICEServers() []webrtc.ICEServer { return p.ice }

func (p *TokenProvider) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	now := p.now().UTC()
	exp := now.Add(p.ttl)
	name := "iv-" + uuid.NewString()

	err := p.rdb.HSet(ctx, roomKey(name), map[string]any{
		"session_id": sessionID,
		"created_at": now.Format(time.RFC3339),
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := p.rdb.Expire(ctx, roomKey(name), p.ttl).Err(); err != nil {
		_ = p.rdb.Del(ctx, roomKey(name)).Err()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: sessionID,
		Room:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(p.secret)
	if err != nil {
		_ = p.rdb.Del(ctx, roomKey(name)).Err()
		return nil, err
	}

	return &Handle{
		Name:       name,
		URL:        p.baseURL + "/" + name,
		Token:      signed,
		ExpiresAt:  exp,
		ICEServers: p.ice,
	}, nil
}

// Release is idempotent; releasing an unknown room is not an error.
func (p *TokenProvider) Release(ctx context.Context, roomName string) error {
	if roomName == "" {
		return nil
	}
	if err := p.rdb.Del(ctx, roomKey(roomName)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ValidateToken verifies the signature and that the room has not been released.
func (p *TokenProvider) ValidateToken(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}

	owner, err := p.rdb.HGet(ctx, roomKey(claims.Room), "session_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if owner != claims.SessionID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
