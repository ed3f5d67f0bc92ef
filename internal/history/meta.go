package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	metaFileName = "meta.json"
	metaVersion  = 1
)

// ConversationMeta stores global metadata per conversation
type ConversationMeta struct {
	ID         string `json:"id"`
	Title      string `json:"title"` // Cached title for quick listing
	IsFavorite bool   `json:"is_favorite"`
}

// HistoryMeta stores favorites for all conversations
type HistoryMeta struct {
	Version int                          `json:"version"` // For future migration
	Meta    map[string]*ConversationMeta `json:"meta"`
}

func newHistoryMeta() *HistoryMeta {
	return &HistoryMeta{
		Version: metaVersion,
		Meta:    make(map[string]*ConversationMeta),
	}
}

func (m *HistoryMeta) isFavorite(id string) bool {
	cm, ok := m.Meta[id]
	return ok && cm.IsFavorite
}

func (s *Store) metaPath() string {
	return filepath.Join(s.baseDir, metaFileName)
}

// loadMeta loads meta.json. A missing file yields empty metadata.
func (s *Store) loadMeta() (*HistoryMeta, error) {
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newHistoryMeta(), nil
		}
		return nil, fmt.Errorf("failed to read meta file: %w", err)
	}

	var meta HistoryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta file: %w", err)
	}
	if meta.Meta == nil {
		meta.Meta = make(map[string]*ConversationMeta)
	}

	return &meta, nil
}

func (s *Store) saveMeta(meta *HistoryMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}
	return writeFileAtomic(s.metaPath(), data)
}

func (s *Store) removeFromMeta(id string) error {
	meta, err := s.loadMeta()
	if err != nil {
		return err
	}
	if _, ok := meta.Meta[id]; !ok {
		return nil
	}
	delete(meta.Meta, id)
	return s.saveMeta(meta)
}

// updateTitleInMeta refreshes the cached title of a tracked conversation
func (s *Store) updateTitleInMeta(id, title string) error {
	meta, err := s.loadMeta()
	if err != nil {
		return err
	}

	if m, exists := meta.Meta[id]; exists && m.Title != title {
		m.Title = title
		return s.saveMeta(meta)
	}

	return nil
}

// IsFavorite returns whether a conversation is marked as favorite
func (s *Store) IsFavorite(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.loadMeta()
	if err != nil {
		return false, err
	}
	return meta.isFavorite(id), nil
}

// ToggleFavorite flips the favorite status of a conversation and returns
// the new status
func (s *Store) ToggleFavorite(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.loadMeta()
	if err != nil {
		return false, err
	}
	status := !meta.isFavorite(id)
	if err := s.setFavoriteLocked(meta, id, status); err != nil {
		return false, err
	}
	return status, nil
}

// SetFavorite sets the favorite status of a conversation
func (s *Store) SetFavorite(id string, isFavorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.loadMeta()
	if err != nil {
		return err
	}
	return s.setFavoriteLocked(meta, id, isFavorite)
}

func (s *Store) setFavoriteLocked(meta *HistoryMeta, id string, isFavorite bool) error {
	conv, err := s.loadConversation(id)
	if err != nil {
		return err
	}

	m, exists := meta.Meta[id]
	if !exists {
		m = &ConversationMeta{ID: id}
		meta.Meta[id] = m
	}
	m.Title = conv.Title
	m.IsFavorite = isFavorite

	return s.saveMeta(meta)
}

// cleanOrphanedMeta drops entries whose conversation file is gone. It
// reports whether anything changed.
func (s *Store) cleanOrphanedMeta(meta *HistoryMeta, existingIDs map[string]bool) bool {
	changed := false
	for id := range meta.Meta {
		if !existingIDs[id] {
			delete(meta.Meta, id)
			changed = true
		}
	}
	return changed
}
