package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/InsulaLabs/relay/models"
)

var ErrNotFound = errors.New("not found")

// Channel is the stored channel row.
type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	Description string
}

// MessagesQuery selects one conversation's history.
type MessagesQuery struct {
	WorkspaceID string
	ChannelID   string

	// DM selector: both participants, order irrelevant.
	UserA string
	UserB string
}

// Store is the row persistence the mutation handlers sit on. The
// realtime layer itself never touches it; only handlers do, and always
// before publishing.
type Store interface {
	CreateMessage(ctx context.Context, m models.Message) (models.Message, error)
	GetMessage(ctx context.Context, id string) (models.Message, error)
	SetReactions(ctx context.Context, messageID string, reactions []models.Reaction) error
	ListMessages(ctx context.Context, q MessagesQuery) ([]models.Message, error)

	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	UpsertProfile(ctx context.Context, p models.Profile) error

	GetChannel(ctx context.Context, id string) (Channel, error)
	UpdateChannel(ctx context.Context, cu models.ChannelUpdate) (Channel, error)

	IsChannelMember(ctx context.Context, userID, channelID string) (bool, error)
	IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error)
	WorkspacesOf(ctx context.Context, userID string) ([]string, error)
}

// MemStore is an in-memory Store. It backs tests and single-node
// deployments; production deployments swap in a database-backed
// implementation of the same interface.
type MemStore struct {
	mu               sync.RWMutex
	messages         map[string]models.Message
	profiles         map[string]models.Profile
	channels         map[string]Channel
	channelMembers   map[string]map[string]bool
	workspaceMembers map[string]map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages:         make(map[string]models.Message),
		profiles:         make(map[string]models.Profile),
		channels:         make(map[string]Channel),
		channelMembers:   make(map[string]map[string]bool),
		workspaceMembers: make(map[string]map[string]bool),
	}
}

// Seed helpers for wiring fixtures and dev deployments.

func (s *MemStore) AddChannel(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

func (s *MemStore) AddChannelMember(channelID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelMembers[channelID] == nil {
		s.channelMembers[channelID] = make(map[string]bool)
	}
	s.channelMembers[channelID][userID] = true
}

func (s *MemStore) AddWorkspaceMember(workspaceID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workspaceMembers[workspaceID] == nil {
		s.workspaceMembers[workspaceID] = make(map[string]bool)
	}
	s.workspaceMembers[workspaceID][userID] = true
}

func (s *MemStore) CreateMessage(_ context.Context, m models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Reactions == nil {
		m.Reactions = []models.Reaction{}
	}
	if sender, ok := s.profiles[m.SenderID]; ok {
		snapshot := sender
		m.Sender = &snapshot
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *MemStore) GetMessage(_ context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemStore) SetReactions(_ context.Context, messageID string, reactions []models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	m.Reactions = append([]models.Reaction{}, reactions...)
	s.messages[messageID] = m
	return nil
}

func (s *MemStore) ListMessages(_ context.Context, q MessagesQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if q.WorkspaceID != "" && m.WorkspaceID != q.WorkspaceID {
			continue
		}
		if q.ChannelID != "" {
			if m.ChannelID == q.ChannelID {
				out = append(out, m)
			}
			continue
		}
		if q.UserA != "" && q.UserB != "" && m.RecipientID != "" {
			pair := (m.SenderID == q.UserA && m.RecipientID == q.UserB) ||
				(m.SenderID == q.UserB && m.RecipientID == q.UserA)
			if pair {
				out = append(out, m)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) GetProfile(_ context.Context, userID string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemStore) UpsertProfile(_ context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return nil
}

func (s *MemStore) GetChannel(_ context.Context, id string) (Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return ch, nil
}

func (s *MemStore) UpdateChannel(_ context.Context, cu models.ChannelUpdate) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[cu.ID]
	if !ok {
		return Channel{}, ErrNotFound
	}
	if cu.Name != "" {
		ch.Name = cu.Name
	}
	if cu.Description != "" {
		ch.Description = cu.Description
	}
	s.channels[cu.ID] = ch
	return ch, nil
}

func (s *MemStore) IsChannelMember(_ context.Context, userID, channelID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelMembers[channelID][userID], nil
}

func (s *MemStore) IsWorkspaceMember(_ context.Context, userID, workspaceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaceMembers[workspaceID][userID], nil
}

func (s *MemStore) WorkspacesOf(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for ws, members := range s.workspaceMembers {
		if members[userID] {
			out = append(out, ws)
		}
	}
	sort.Strings(out)
	return out, nil
}
