package contextstore

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/tasknest/taskbot/pkg/models"
)

const (
	// DefaultMaxMessages bounds each conversation history
	DefaultMaxMessages = 10
	// DefaultTTL is how long an untouched conversation survives
	DefaultTTL = 24 * time.Hour
)

// Conversation holds the bounded message history for one conversation key
type Conversation struct {
	Messages  []models.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a process-wide map from conversation key to message history.
// Histories are bounded (oldest dropped first) and swept opportunistically
// once they outlive the TTL. Two near-simultaneous messages on the same key
// may interleave their read/append cycles; last write wins, which degrades
// conversational continuity but corrupts nothing.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	maxMessages   int
	ttl           time.Duration
	logger        *log.Logger
}

// New creates a Store. Zero values fall back to the defaults.
func New(maxMessages int, ttl time.Duration, logger *log.Logger) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New(os.Stdout, "contextstore ", log.LstdFlags)
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		maxMessages:   maxMessages,
		ttl:           ttl,
		logger:        logger,
	}
}

// Key derives the conversation key. A message in a thread keeps its own
// history, separate from the channel's main conversation.
func Key(channelID, threadTS string) string {
	if threadTS != "" {
		return channelID + ":" + threadTS
	}
	return channelID
}

// Touch appends a user turn to the conversation for key, creating the
// conversation if the key has never been seen. The history is truncated to
// the most recent maxMessages entries. The returned Conversation is shared;
// later appends by other callers are visible through it.
func (s *Store) Touch(key, userUtterance string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key]
	if !ok {
		// New key: sweep expired entries while we are here.
		s.evictExpiredLocked()
		now := time.Now()
		conv = &Conversation{CreatedAt: now, UpdatedAt: now}
		s.conversations[key] = conv
	}

	conv.Messages = append(conv.Messages, models.Message{
		Role:    models.RoleUser,
		Content: userUtterance,
	})
	if len(conv.Messages) > s.maxMessages {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxMessages:]
	}
	conv.UpdatedAt = time.Now()

	return conv
}

// AppendReply appends an assistant turn to an existing conversation. If the
// key is unknown this is a no-op: an assistant reply can never precede a user
// turn, so a missing key means a logic error upstream, not something to
// create state for.
func (s *Store) AppendReply(key, assistantUtterance string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key]
	if !ok {
		s.logger.Printf("WARN: append_reply for unknown conversation key %q; dropping", key)
		return
	}

	conv.Messages = append(conv.Messages, models.Message{
		Role:    models.RoleAssistant,
		Content: assistantUtterance,
	})
	if len(conv.Messages) > s.maxMessages {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxMessages:]
	}
	conv.UpdatedAt = time.Now()
}

// History returns a copy of the messages for key, or nil for an unknown key.
func (s *Store) History(key string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// EvictExpired removes every conversation created more than the TTL ago.
// Best effort: it also runs automatically whenever Touch creates a new key,
// so callers do not need a timer.
func (s *Store) EvictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
}

func (s *Store) evictExpiredLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for key, conv := range s.conversations {
		if conv.CreatedAt.Before(cutoff) {
			delete(s.conversations, key)
			s.logger.Printf("evicted expired conversation %s (created %s)", key, conv.CreatedAt.Format(time.RFC3339))
		}
	}
}
