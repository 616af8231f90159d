// Package history persists chat conversations as YAML files, one file
// per conversation.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role identifies who produced a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string    `yaml:"role"`
	Content   string    `yaml:"content"`
	Sources   []string  `yaml:"sources,omitempty"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Conversation is a named sequence of messages.
type Conversation struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Messages  []Message `yaml:"messages"`
}

// Store reads and writes conversations under a directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

var idSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// NewConversation creates a conversation with a timestamp-derived ID.
func (s *Store) NewConversation(title string) *Conversation {
	now := time.Now()
	id := now.Format("20060102-150405")
	if title != "" {
		slug := idSanitizer.ReplaceAllString(strings.ToLower(title), "-")
		slug = strings.Trim(slug, "-")
		if len(slug) > 40 {
			slug = slug[:40]
		}
		if slug != "" {
			id = id + "-" + slug
		}
	}
	return &Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the conversation and bumps its update time.
func (c *Conversation) Append(role, content string, sources []string) {
	now := time.Now()
	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		Sources:   sources,
		Timestamp: now,
	})
	c.UpdatedAt = now
}

// Save writes the conversation to disk, replacing any previous version.
func (s *Store) Save(c *Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("save conversation: empty id")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation %q: %w", c.ID, err)
	}

	path := s.path(c.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write conversation %q: %w", c.ID, err)
	}
	return os.Rename(tmp, path)
}

// Load reads a conversation by ID.
func (s *Store) Load(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("load conversation %q: %w", id, err)
	}
	var c Conversation
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode conversation %q: %w", id, err)
	}
	return &c, nil
}

// List returns conversation IDs, newest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Delete removes a conversation file.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("delete conversation %q: %w", id, err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}
