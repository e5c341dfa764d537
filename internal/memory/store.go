package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps conversations in process memory. It backs tests
// and ephemeral deployments; production uses [SQLiteStore].
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
	}
}

// GetOrCreate implements Store.
func (s *InMemoryStore) GetOrCreate(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		now := time.Now()
		conv = &Conversation{
			ID:        id,
			Messages:  []Message{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.conversations[id] = conv
	}
	return conv.copy(), nil
}

// Get implements Store.
func (s *InMemoryStore) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return conv.copy(), nil
}

// List implements Store.
func (s *InMemoryStore) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			Preview:      conv.Preview,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Append implements Store.
func (s *InMemoryStore) Append(conversationID string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		now := time.Now()
		conv = &Conversation{ID: conversationID, CreatedAt: now, UpdatedAt: now}
		s.conversations[conversationID] = conv
	}

	if err := validateAppend(conv.Messages, msg); err != nil {
		return Message{}, err
	}

	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Message{}, fmt.Errorf("generate message id: %w", err)
		}
		msg.ID = id.String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	conv.Messages = append(conv.Messages, msg)
	conv.Title, conv.Preview = displayFields(conv, msg)
	conv.UpdatedAt = time.Now()
	return msg, nil
}

// Messages implements Store.
func (s *InMemoryStore) Messages(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []Message{}, nil
	}
	msgs := make([]Message, len(conv.Messages))
	copy(msgs, conv.Messages)
	return msgs, nil
}

// DeleteMessage implements Store.
func (s *InMemoryStore) DeleteMessage(conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}
	for i, m := range conv.Messages {
		if m.ID == messageID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			conv.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("message not found: %s", messageID)
}

// ToggleBookmark implements Store.
func (s *InMemoryStore) ToggleBookmark(conversationID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, fmt.Errorf("conversation not found: %s", conversationID)
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			conv.Messages[i].Bookmarked = !conv.Messages[i].Bookmarked
			return conv.Messages[i].Bookmarked, nil
		}
	}
	return false, fmt.Errorf("message not found: %s", messageID)
}

// Delete implements Store.
func (s *InMemoryStore) Delete(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// Stats implements Store.
func (s *InMemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalMessages := 0
	for _, conv := range s.conversations {
		totalMessages += len(conv.Messages)
	}
	return map[string]any{
		"conversations": len(s.conversations),
		"messages":      totalMessages,
		"storage":       "memory",
	}
}

func (c *Conversation) copy() *Conversation {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		Preview:   c.Preview,
		Messages:  msgs,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
