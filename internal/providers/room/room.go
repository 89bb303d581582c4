package room

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v3"
)

var (
	ErrUnavailable  = errors.New("room provider unavailable")
	ErrInvalidToken = errors.New("invalid room token")
)

// Handle is the capability a candidate presents to join the interview room.
type Handle struct {
	Name       string             `json:"room_name"`
	URL        string             `json:"url"`
	Token      string             `json:"token"`
	ExpiresAt  time.Time          `json:"expires_at"`
	ICEServers []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

type Provider interface {
	Acquire(ctx context.Context, sessionID string) (*Handle, error)
	Release(ctx context.Context, roomName string) error
	ICEServers() []webrtc.ICEServer
}

// TokenValidator checks a room token and returns the session it was issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, raw string) (*Claims, error)
}
