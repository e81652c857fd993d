package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"
)

// Store persists conversations and their message logs.
type Store interface {
	// GetOrCreate returns the conversation for key, creating it in
	// PENDING_AUTH when absent. Concurrent callers observe the same row.
	GetOrCreate(ctx context.Context, key Key) (*Conversation, error)
	// Get returns ErrNotFound when the conversation does not exist.
	Get(ctx context.Context, key Key) (*Conversation, error)
	// Update loads the conversation under a row lock, applies fn and saves
	// the result. Returning an error from fn aborts without saving.
	Update(ctx context.Context, key Key, fn func(*Conversation) error) (*Conversation, error)
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	// Messages returns up to limit most recent messages in creation order.
	Messages(ctx context.Context, conversationID int64, limit int) ([]Message, error)
}

// MemoryStore keeps conversations in process memory. It is used for local
// runs and tests. Update holds a per-key lock while fn runs, so other
// conversations stay readable and writable during a slow turn.
type MemoryStore struct {
	rows     *kmutex.Kmutex
	mu       sync.Mutex
	byKey    map[Key]*Conversation
	messages map[int64][]Message
	nextConv int64
	nextMsg  int64
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     kmutex.New(),
		byKey:    make(map[Key]*Conversation),
		messages: make(map[int64][]Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, key Key) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byKey[key]; ok {
		return c.Clone(), nil
	}
	s.nextConv++
	now := s.now().UTC()
	c := &Conversation{
		ID:              s.nextConv,
		Channel:         key.Channel,
		Address:         key.Address,
		Status:          StatusPendingAuth,
		LastInteraction: now,
		CreatedAt:       now,
	}
	s.byKey[key] = c
	return c.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, key Key, fn func(*Conversation) error) (*Conversation, error) {
	s.rows.Lock(key)
	defer s.rows.Unlock(key)

	s.mu.Lock()
	c, ok := s.byKey[key]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	work := c.Clone()
	s.mu.Unlock()

	if err := fn(work); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	work.ID, work.Channel, work.Address, work.CreatedAt = c.ID, c.Channel, c.Address, c.CreatedAt
	s.byKey[key] = work
	return work.Clone(), nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	msg.ID = s.nextMsg
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	if msg.Metadata != nil {
		meta := make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		msg.Metadata = meta
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID int64, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := append([]Message(nil), all...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
