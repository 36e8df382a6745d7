// Package correlation implements C6, the per-conversation correlation
// store: it remembers the upstream response id to chain the next turn off
// of, and the call_id <-> tool_use_id bindings needed to route a later
// tool_result back to the upstream call that produced it.
package correlation

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL is how long a conversation may sit idle before it is evicted.
const TTL = 30 * time.Minute

// Binding is one call_id <-> tool_use_id pairing plus the tool name, as
// recorded when a tool call originates upstream.
type Binding struct {
	CallID    string
	ToolUseID string
	ToolName  string
}

// Conversation is the per-conversation record (spec §3). Fields are read
// only through the accessor methods below, under the record's own mutex;
// the last-accessed time is refreshed by Store.GetOrCreate, Touch and Update.
type Conversation struct {
	id             string
	mu             sync.RWMutex
	lastResponseID string
	byCallID       map[string]Binding
	byToolUseID    map[string]Binding
	createdAt      time.Time
	lastAccessedAt time.Time
}

func newConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		id:             id,
		byCallID:       make(map[string]Binding),
		byToolUseID:    make(map[string]Binding),
		createdAt:      now,
		lastAccessedAt: now,
	}
}

// LastResponseID returns the upstream response id to chain from, if any.
func (c *Conversation) LastResponseID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastResponseID, c.lastResponseID != ""
}

// BindingByCallID resolves an upstream call_id to its downstream binding.
func (c *Conversation) BindingByCallID(callID string) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byCallID[callID]
	return b, ok
}

// BindingByToolUseID resolves a downstream tool_use_id to its binding.
func (c *Conversation) BindingByToolUseID(toolUseID string) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byToolUseID[toolUseID]
	return b, ok
}

// Bindings returns a copy of all bindings, safe to hand to a session that
// will read them without holding the store's lock (spec §9: copy-on-read).
func (c *Conversation) Bindings() []Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Binding, 0, len(c.byCallID))
	for _, b := range c.byCallID {
		out = append(out, b)
	}
	return out
}

// Store is the process-wide conversation map. A single mutex guards the
// outer map (spec §9); per-conversation state is guarded by that
// conversation's own mutex, so a sweep and a live session never contend on
// the same lock for long.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*Conversation
	cache  *lru.LRU[string, *Conversation]
	logger *slog.Logger
}

// New builds a Store whose entries are evicted after TTL of inactivity.
// The expirable LRU's own background purge loop plays the role of the
// spec's periodic sweep; there is no separately scheduled goroutine here.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		byID:   make(map[string]*Conversation),
		logger: logger,
	}
	s.cache = lru.NewLRU[string, *Conversation](0, s.onEvict, TTL)
	return s
}

func (s *Store) onEvict(id string, _ *Conversation) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	s.logger.Debug("conversation evicted", "conversation_id", id)
}

// GetOrCreate returns the conversation for id, creating it if absent, and
// touches it.
func (s *Store) GetOrCreate(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.cache.Get(id); ok {
		conv.mu.Lock()
		conv.lastAccessedAt = time.Now()
		conv.mu.Unlock()
		s.cache.Add(id, conv)
		return conv
	}

	conv := newConversation(id)
	s.byID[id] = conv
	s.cache.Add(id, conv)
	return conv
}

// Touch refreshes a conversation's last-accessed time without altering its
// bindings, by re-adding it to the LRU (resets the TTL clock).
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.cache.Get(id); ok {
		conv.mu.Lock()
		conv.lastAccessedAt = time.Now()
		conv.mu.Unlock()
		s.cache.Add(id, conv)
	}
}

// Update merges newBindings into the conversation (newer wins on collision,
// logged as a warning) and sets lastResponseID if non-empty. Called by the
// coordinator at the end of a turn (spec §4.7 step 6).
func (s *Store) Update(id string, lastResponseID string, newBindings []Binding) {
	conv := s.GetOrCreate(id)

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if lastResponseID != "" {
		conv.lastResponseID = lastResponseID
	}

	for _, b := range newBindings {
		if existing, ok := conv.byCallID[b.CallID]; ok && existing != b {
			s.logger.Warn("tool binding overwritten",
				"conversation_id", id, "call_id", b.CallID,
				"old_tool_use_id", existing.ToolUseID, "new_tool_use_id", b.ToolUseID)
		}
		conv.byCallID[b.CallID] = b
		conv.byToolUseID[b.ToolUseID] = b
	}

	conv.lastAccessedAt = time.Now()
}

// Destroy removes a conversation outright.
func (s *Store) Destroy(id string) {
	// cache.Remove invokes onEvict, which takes s.mu itself, so the cache
	// call is made without holding s.mu.
	s.cache.Remove(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Len reports the number of live conversations; used by tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
