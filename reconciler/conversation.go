package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository persists conversation messages. Save upserts by message ID.
type Repository interface {
	Load(ctx context.Context) ([]Message, error)
	Save(ctx context.Context, msg Message) error
}

// Conversation is an ordered list of messages backed by a Repository.
// Every mutation is written through immediately.
type Conversation struct {
	repo Repository

	mu       sync.Mutex
	messages []Message
	index    map[string]int
	saveErr  error
}

// OpenConversation loads the existing history from repo
func OpenConversation(ctx context.Context, repo Repository) (*Conversation, error) {
	msgs, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	c := &Conversation{repo: repo, index: make(map[string]int, len(msgs))}
	for _, m := range msgs {
		c.index[m.ID] = len(c.messages)
		c.messages = append(c.messages, m.Clone())
	}
	return c, nil
}

// Messages returns a copy of the history in order
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Begin records the user's question and an empty assistant placeholder, and
// returns the reconciler that fills the placeholder in. Each change the
// reconciler makes is saved, then passed to observers.
func (c *Conversation) Begin(ctx context.Context, question string, observers ...func(Message)) (*Reconciler, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	user := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   question,
		CreatedAt: time.Now(),
	}
	if err := c.put(ctx, user); err != nil {
		return nil, err
	}

	rec := New(uuid.NewString(), WithCreatedAt(time.Now()), WithOnChange(func(m Message) {
		if err := c.put(ctx, m); err != nil {
			zap.S().Warnw("conversation_save_failed", "message_id", m.ID, "error", err)
		}
		for _, fn := range observers {
			fn(m)
		}
	}))
	if err := c.put(ctx, rec.Message()); err != nil {
		return nil, err
	}
	return rec, nil
}

// Err returns the most recent save failure, if any
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveErr
}

// put upserts msg in memory and in the repository
func (c *Conversation) put(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if i, ok := c.index[msg.ID]; ok {
		c.messages[i] = msg.Clone()
	} else {
		c.index[msg.ID] = len(c.messages)
		c.messages = append(c.messages, msg.Clone())
	}
	c.mu.Unlock()

	if err := c.repo.Save(ctx, msg); err != nil {
		err = fmt.Errorf("save message %s: %w", msg.ID, err)
		c.mu.Lock()
		c.saveErr = err
		c.mu.Unlock()
		return err
	}
	return nil
}
