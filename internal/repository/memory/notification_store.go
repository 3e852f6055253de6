package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
)

// NotificationStore лента уведомлений в памяти.
type NotificationStore struct {
	mu    sync.RWMutex
	items []models.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{}
}

func (s *NotificationStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	s.items = append(s.items, *n)
	return nil
}

func (s *NotificationStore) GetByID(_ context.Context, id uuid.UUID) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		n := s.items[i]
		return &n, nil
	}
	return nil, domain.ErrNotificationNotFound
}

func (s *NotificationStore) List(_ context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, 0)
	skipped := 0
	for _, n := range slices.Backward(s.items) {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *NotificationStore) MarkAsRead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return domain.ErrNotificationNotFound
	}
	s.items[i].IsRead = true
	return nil
}

func (s *NotificationStore) MarkAllAsRead(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].UserID == userID {
			s.items[i].IsRead = true
		}
	}
	return nil
}

func (s *NotificationStore) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) index(id uuid.UUID) int {
	return slices.IndexFunc(s.items, func(n models.Notification) bool { return n.ID == id })
}
