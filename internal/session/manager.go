package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/metrics"
)

const threadKeyPrefix = "research:thread:"

// Manager stores research threads in Redis with a small local cache in
// front. Threads are keyed per (user, conversation) so concurrent sessions
// never contend on the same state.
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu         sync.RWMutex
	localCache map[string]*Thread
}

// NewManager connects to Redis and verifies the connection.
func NewManager(addr, password string, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: connect to redis: %w", err)
	}

	return &Manager{
		client:     client,
		logger:     logger,
		ttl:        7 * 24 * time.Hour,
		localCache: make(map[string]*Thread),
	}, nil
}

func threadKey(userID, conversationID string) string {
	return threadKeyPrefix + userID + ":" + conversationID
}

// Ping verifies the Redis connection. Used by health checks.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// GetOrCreateThread returns the existing thread for (user, conversation) or
// creates one with the given run settings. Settings on an existing thread
// are not overwritten; resume cycles keep the configuration of the original
// run.
func (m *Manager) GetOrCreateThread(ctx context.Context, userID, conversationID, searchBackend, modelProvider string) (*Thread, error) {
	if existing, err := m.GetThread(ctx, userID, conversationID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrThreadNotFound) {
		return nil, err
	}

	now := time.Now()
	thread := &Thread{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
		SearchBackend:  searchBackend,
		ModelProvider:  modelProvider,
	}
	if err := m.save(ctx, thread); err != nil {
		return nil, err
	}

	m.logger.Info("Created research thread",
		zap.String("thread_id", thread.ID),
		zap.String("user_id", userID),
		zap.String("conversation_id", conversationID),
	)
	metrics.ThreadsCreated.Inc()
	return thread, nil
}

// GetThread loads the thread for (user, conversation). The caller owns the
// returned struct; mutations only reach the store through AttachRun,
// DetachRun or save.
func (m *Manager) GetThread(ctx context.Context, userID, conversationID string) (*Thread, error) {
	key := threadKey(userID, conversationID)

	m.mu.RLock()
	cached, ok := m.localCache[key]
	if ok {
		out := *cached
		m.mu.RUnlock()
		return &out, nil
	}
	m.mu.RUnlock()

	data, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load thread: %w", err)
	}

	var thread Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		return nil, fmt.Errorf("session: decode thread: %w", err)
	}

	m.mu.Lock()
	cachedCopy := thread
	m.localCache[key] = &cachedCopy
	m.mu.Unlock()
	return &thread, nil
}

// AttachRun binds a started workflow execution to the thread so a later
// resume call can locate and signal the suspended run.
func (m *Manager) AttachRun(ctx context.Context, thread *Thread, workflowID, runID string) error {
	thread.WorkflowID = workflowID
	thread.RunID = runID
	thread.UpdatedAt = time.Now()
	return m.save(ctx, thread)
}

// DetachRun clears the run binding after a workflow finishes.
func (m *Manager) DetachRun(ctx context.Context, thread *Thread) error {
	thread.WorkflowID = ""
	thread.RunID = ""
	thread.UpdatedAt = time.Now()
	return m.save(ctx, thread)
}

func (m *Manager) save(ctx context.Context, thread *Thread) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("session: encode thread: %w", err)
	}
	key := threadKey(thread.UserID, thread.ConversationID)
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("session: save thread: %w", err)
	}

	// The cache keeps its own copy so callers holding thread cannot mutate
	// cached state behind the lock.
	m.mu.Lock()
	cached := *thread
	m.localCache[key] = &cached
	m.mu.Unlock()
	return nil
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
