// Package sessions tracks viewer sessions in Redis. A session is one
// browser tab watching one stream; its record carries the playback
// state the dashboard polls for.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	SessionTTL        = 10 * time.Minute
	IdempotencyWindow = 10 * time.Second
	MaxActivePerUser  = 16
)

var ErrSessionLimitExceeded = errors.New("active session limit exceeded")

// ViewerSession is the Redis-stored record of one viewer.
type ViewerSession struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"organization_id"`
	UserID        string    `json:"user_id"`
	StreamID      string    `json:"stream_id"`
	Transport     string    `json:"transport"`
	FallbackCount int       `json:"fallback_count"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type Service struct {
	Redis *redis.Client
}

func NewService(r *redis.Client) *Service {
	return &Service{Redis: r}
}

func sessKey(id string) string { return "view:sess:" + id }

func activeKey(org, user string) string {
	return fmt.Sprintf("view:active:%s:%s", org, user)
}

func idemKey(user, stream string) string {
	return fmt.Sprintf("view:idem:%s:%s", user, stream)
}

// Start opens a session for user watching streamID. Repeat calls
// within the idempotency window return the same session instead of
// piling up duplicates.
func (s *Service) Start(ctx context.Context, orgID, userID, streamID string) (*ViewerSession, error) {
	// Scrub the active index first; members whose session record
	// expired are stale.
	aKey := activeKey(orgID, userID)
	members, err := s.Redis.SMembers(ctx, aKey).Result()
	if err == nil {
		for _, sessID := range members {
			exists, _ := s.Redis.Exists(ctx, sessKey(sessID)).Result()
			if exists == 0 {
				s.Redis.SRem(ctx, aKey, sessID)
			}
		}
	}

	count, _ := s.Redis.SCard(ctx, aKey).Result()
	if count >= MaxActivePerUser {
		return nil, fmt.Errorf("%w: limit=%d active=%d", ErrSessionLimitExceeded, MaxActivePerUser, count)
	}

	iKey := idemKey(userID, streamID)
	if existingID, err := s.Redis.Get(ctx, iKey).Result(); err == nil && existingID != "" {
		if sess, err := s.Get(ctx, existingID); err == nil {
			return sess, nil
		}
	}

	now := time.Now()
	sess := &ViewerSession{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		UserID:     userID,
		StreamID:   streamID,
		Transport:  "webrtc",
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(SessionTTL),
	}

	payload, _ := json.Marshal(sess)
	pipe := s.Redis.Pipeline()
	pipe.Set(ctx, sessKey(sess.ID), payload, SessionTTL)
	pipe.Set(ctx, iKey, sess.ID, IdempotencyWindow)
	pipe.SAdd(ctx, aKey, sess.ID)
	pipe.Expire(ctx, aKey, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Get loads a session record.
func (s *Service) Get(ctx context.Context, sessionID string) (*ViewerSession, error) {
	data, err := s.Redis.Get(ctx, sessKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	var sess ViewerSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Heartbeat extends a session's TTL and records the transport the
// viewer actually ended up on.
func (s *Service) Heartbeat(ctx context.Context, sessionID, transport string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	sess.LastSeenAt = now
	sess.ExpiresAt = now.Add(SessionTTL)
	if transport != "" {
		if sess.Transport != transport {
			sess.FallbackCount++
		}
		sess.Transport = transport
	}
	payload, _ := json.Marshal(sess)
	return s.Redis.Set(ctx, sessKey(sessionID), payload, SessionTTL).Err()
}

// End removes a session and its active-index entry.
func (s *Service) End(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil
	}
	pipe := s.Redis.Pipeline()
	pipe.Del(ctx, sessKey(sessionID))
	pipe.SRem(ctx, activeKey(sess.OrgID, sess.UserID), sessionID)
	pipe.Del(ctx, idemKey(sess.UserID, sess.StreamID))
	_, err = pipe.Exec(ctx)
	return err
}

// ActiveCount reports how many live sessions a user holds.
func (s *Service) ActiveCount(ctx context.Context, orgID, userID string) (int64, error) {
	return s.Redis.SCard(ctx, activeKey(orgID, userID)).Result()
}
