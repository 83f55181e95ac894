package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix      = "voice:sessions:"
	conversationPrefix = "voice:conversations:"
	metaFieldPrefix    = "meta:"

	DefaultTTL          = 2 * time.Hour
	DefaultHistoryLimit = 100
)

// Store keeps session records and conversation history in Redis. Each hash
// field has a single writer (the connection that owns the session), so writes
// are not batched into transactions.
type Store struct {
	client       redis.UniversalClient
	ttl          time.Duration
	historyLimit int
	now          func() time.Time
}

func NewStore(client redis.UniversalClient, ttl time.Duration, historyLimit int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if historyLimit < 2 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		client:       client,
		ttl:          ttl,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

func sessionKey(id string) string      { return sessionPrefix + id }
func conversationKey(id string) string { return conversationPrefix + id }

// NewSessionID returns "sess_" followed by 12 hex characters.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *Store) Create(ctx context.Context) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:        NewSessionID(),
		Status:    StatusInitiated,
		CreatedAt: now,
		StartTime: float64(now.UnixNano()) / 1e9,
	}
	key := sessionKey(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"session_id":   sess.ID,
			"status":       string(sess.Status),
			"created_at":   now.Format(time.RFC3339Nano),
			"start_time":   strconv.FormatFloat(sess.StartTime, 'f', 6, 64),
			"user_contact": "",
			"ws_active":    "0",
		})
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeSession(fields), nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists session: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	return s.setFields(ctx, id, map[string]any{"status": string(status)})
}

func (s *Store) SetUser(ctx context.Context, id, contact string, userID int64, name string) error {
	return s.setFields(ctx, id, map[string]any{
		"user_contact": contact,
		"user_id":      strconv.FormatInt(userID, 10),
		"user_name":    name,
	})
}

func (s *Store) SetWSActive(ctx context.Context, id string, active bool) error {
	v := "0"
	if active {
		v = "1"
	}
	return s.setFields(ctx, id, map[string]any{"ws_active": v})
}

// SetMetadata stores value as JSON under meta:<field>.
func (s *Store) SetMetadata(ctx context.Context, id, field string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", field, err)
	}
	return s.setFields(ctx, id, map[string]any{metaFieldPrefix + field: string(data)})
}

// GetMetadata decodes meta:<field> into dst. It reports false when unset.
func (s *Store) GetMetadata(ctx context.Context, id, field string, dst any) (bool, error) {
	raw, err := s.client.HGet(ctx, sessionKey(id), metaFieldPrefix+field).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get metadata %s: %w", field, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode metadata %s: %w", field, err)
	}
	return true, nil
}

// StartTime returns the session start as unix seconds, or now when unknown.
func (s *Store) StartTime(ctx context.Context, id string) (float64, error) {
	raw, err := s.client.HGet(ctx, sessionKey(id), "start_time").Result()
	if errors.Is(err, redis.Nil) || raw == "" {
		return float64(s.now().UnixNano()) / 1e9, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get start_time: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return float64(s.now().UnixNano()) / 1e9, nil
	}
	return v, nil
}

// InitConversation replaces any history with a single system message.
func (s *Store) InitConversation(ctx context.Context, id, systemPrompt string) error {
	data, err := json.Marshal(Message{Role: RoleSystem, Content: systemPrompt})
	if err != nil {
		return err
	}
	key := conversationKey(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("init conversation: %w", err)
	}
	return nil
}

// AddMessage appends msg and trims history to the configured limit, dropping
// the oldest non-system entries first.
func (s *Store) AddMessage(ctx context.Context, id string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := conversationKey(id)
	length, err := s.client.RPush(ctx, key, data).Result()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("refresh conversation ttl: %w", err)
	}
	if int(length) <= s.historyLimit {
		return nil
	}
	return s.trim(ctx, key)
}

// trim keeps the newest entries within the limit, preserving a leading
// system message. Tool results at the front of the kept window are dropped
// too: their assistant tool_calls entry was evicted and providers reject an
// unanswered tool message.
func (s *Store) trim(ctx context.Context, key string) error {
	head, err := s.client.LRange(ctx, key, 0, 0).Result()
	if err != nil {
		return fmt.Errorf("read history head: %w", err)
	}
	limit := int64(s.historyLimit)
	keepSystem := len(head) > 0 && entryRole(head[0]) == RoleSystem
	start := -limit
	if keepSystem {
		start = -(limit - 1)
	}

	window, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return fmt.Errorf("read history window: %w", err)
	}
	orphans := int64(0)
	for _, raw := range window {
		if entryRole(raw) != RoleTool {
			break
		}
		orphans++
	}
	start += orphans

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if start >= 0 {
			pipe.Del(ctx, key)
		} else {
			pipe.LTrim(ctx, key, start, -1)
		}
		if keepSystem {
			pipe.LPush(ctx, key, head[0])
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func entryRole(raw string) Role {
	var entry struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return ""
	}
	return entry.Role
}

func (s *Store) Conversation(ctx context.Context, id string) ([]Message, error) {
	raws, err := s.client.LRange(ctx, conversationKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) UserTurnCount(ctx context.Context, id string) (int, error) {
	msgs, err := s.Conversation(ctx, id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n, nil
}

// Remove deletes the session hash and its history.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id), conversationKey(id)).Err(); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Ping checks the backing Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// setFields writes only when the session exists so late writers never
// resurrect a removed session.
func (s *Store) setFields(ctx context.Context, id string, fields map[string]any) error {
	key := sessionKey(id)
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func decodeSession(fields map[string]string) *Session {
	sess := &Session{
		ID:          fields["session_id"],
		Status:      Status(fields["status"]),
		UserContact: fields["user_contact"],
		UserName:    fields["user_name"],
		WSActive:    fields["ws_active"] == "1",
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		sess.CreatedAt = t
	}
	if v, err := strconv.ParseFloat(fields["start_time"], 64); err == nil {
		sess.StartTime = v
	}
	if v, err := strconv.ParseInt(fields["user_id"], 10, 64); err == nil {
		sess.UserID = v
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, metaFieldPrefix); ok {
			if sess.Metadata == nil {
				sess.Metadata = make(map[string]json.RawMessage)
			}
			sess.Metadata[name] = json.RawMessage(v)
		}
	}
	return sess
}
