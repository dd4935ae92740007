package devbackend

import (
	"net/http"
	"strconv"

	"github.com/cuemby/swms/pkg/types"
)

// Push stores a notification for a user and delivers it to the user's hub
// connections. ID and CreatedAt are assigned by the server.
func (s *Server) Push(userID int64, n types.Notification) types.Notification {
	s.mu.Lock()
	s.nextNoticeID++
	n.ID = s.nextNoticeID
	n.UserID = userID
	n.IsRead = false
	n.ReadAt = nil
	if n.Kind == "" {
		n.Kind = types.NotificationInfo
	}
	n.CreatedAt = s.now().UTC()

	stored := n
	s.notifications[userID] = append([]*types.Notification{&stored}, s.notifications[userID]...)
	s.mu.Unlock()

	s.hub.Send(userID, n)
	return n
}

// Redeliver sends an existing notification over the hub again, unchanged on
// the server side
func (s *Server) Redeliver(userID, notificationID int64) bool {
	s.mu.RLock()
	var found *types.Notification
	for _, n := range s.notifications[userID] {
		if n.ID == notificationID {
			copied := *n
			copied.IsRead = false
			copied.ReadAt = nil
			found = &copied
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return false
	}
	s.hub.Send(userID, *found)
	return true
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	pageSize := queryInt(r, "pageSize", 20)
	pageNumber := queryInt(r, "pageNumber", 1)
	userID := userIDFrom(r.Context())

	s.mu.RLock()
	all := s.notifications[userID]
	start := (pageNumber - 1) * pageSize
	page := make([]types.Notification, 0, pageSize)
	for i := start; i < len(all) && i < start+pageSize; i++ {
		page = append(page, *all[i])
	}
	s.mu.RUnlock()

	writeData(w, http.StatusOK, "", page)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	s.mu.RLock()
	count := 0
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			count++
		}
	}
	s.mu.RUnlock()

	writeData(w, http.StatusOK, "", count)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID := userIDFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications[userID] {
		if n.ID != id {
			continue
		}
		if !n.IsRead {
			now := s.now().UTC()
			n.IsRead = true
			n.ReadAt = &now
		}
		writeData(w, http.StatusOK, "", true)
		return
	}
	writeError(w, http.StatusNotFound, "Notification not found")
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			readAt := now
			n.IsRead = true
			n.ReadAt = &readAt
		}
	}
	writeData(w, http.StatusOK, "", true)
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
