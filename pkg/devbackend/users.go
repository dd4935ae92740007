package devbackend

import (
	"net/http"
	"net/mail"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/swms/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	users := make([]types.User, 0, len(s.accounts))
	for _, acct := range s.accounts {
		users = append(users, acct.user)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	writeData(w, http.StatusOK, "", users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	acct, exists := s.accounts[id]
	var user types.User
	if exists {
		user = acct.user
	}
	s.mu.RUnlock()

	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeData(w, http.StatusOK, "", user)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	roles, errs := validateUser(req.FullName, req.Email, req.RoleIDs)
	if len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "", errs...)
		return
	}
	if _, exists := s.UserByEmail(req.Email); exists {
		writeError(w, http.StatusConflict, "A user with this email already exists")
		return
	}

	password := temporaryPassword()
	user, err := s.AddUser(types.User{
		DocumentEmployeeNo: req.DocumentEmployeeNo,
		EmployeeNo:         req.EmployeeNo,
		FullName:           strings.TrimSpace(req.FullName),
		Email:              req.Email,
		IsActive:           true,
		Roles:              roles,
	}, password, true)
	if err != nil {
		writeError(w, http.StatusConflict, "A user with this email already exists")
		return
	}

	s.logger.Info().Int64("user_id", user.UserID).Str("email", user.Email).Msg("User created with temporary password")
	s.Push(user.UserID, types.Notification{
		Title:   "Welcome",
		Message: "Your account has been created. Please change your temporary password.",
		Kind:    types.NotificationInfo,
	})
	writeData(w, http.StatusCreated, "User created successfully", user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req types.UpdateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if req.UserID != 0 && req.UserID != id {
		writeError(w, http.StatusBadRequest, "User ID mismatch")
		return
	}

	roles, errs := validateUser(req.FullName, req.Email, req.RoleIDs)
	if len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "", errs...)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[id]
	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if other, taken := s.byEmail[email]; taken && other != id {
		writeError(w, http.StatusConflict, "A user with this email already exists")
		return
	}

	delete(s.byEmail, acct.user.Email)
	s.byEmail[email] = id
	acct.user.Email = email
	acct.user.FullName = strings.TrimSpace(req.FullName)
	acct.user.DocumentEmployeeNo = req.DocumentEmployeeNo
	acct.user.EmployeeNo = req.EmployeeNo
	acct.user.IsActive = req.IsActive
	acct.user.Roles = roles
	writeData(w, http.StatusOK, "User updated successfully", true)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if id == userIDFrom(r.Context()) {
		writeError(w, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	s.mu.Lock()
	acct, exists := s.accounts[id]
	if exists {
		delete(s.byEmail, acct.user.Email)
		delete(s.accounts, id)
		delete(s.notifications, id)
		s.dropRefreshLocked(id)
	}
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	s.hub.disconnectUser(id)
	writeData(w, http.StatusOK, "User deleted successfully", true)
}

func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	acct, exists := s.accounts[id]
	if exists {
		acct.user.IsActive = false
		s.dropRefreshLocked(id)
	}
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	s.hub.disconnectUser(id)
	writeData(w, http.StatusOK, "User deactivated successfully", true)
}

func (s *Server) handleResendPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	password := temporaryPassword()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	s.mu.Lock()
	acct, exists := s.accounts[id]
	if exists {
		acct.passwordHash = hash
		acct.tempPassword = password
		acct.user.IsTempPassword = true
	}
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	s.logger.Info().Int64("user_id", id).Msg("Temporary password reissued")
	writeData(w, http.StatusOK, "Temporary password sent", true)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	claims := claimsFrom(r.Context())

	s.mu.RLock()
	defer s.mu.RUnlock()

	unread := 0
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			unread++
		}
	}

	stats := types.DashboardStats{UnreadNotifications: &unread}
	if acct, ok := s.accounts[userID]; ok && acct.user.LastLoginDate != nil {
		last := acct.user.LastLoginDate.Format("2006-01-02T15:04:05Z07:00")
		stats.LastLogin = &last
	}

	for _, role := range claims.Role {
		if role != types.RoleAdmin {
			continue
		}
		now := s.now()
		total, newThisMonth, pending := len(s.accounts), 0, 0
		for _, acct := range s.accounts {
			created := acct.user.CreatedDate
			if created.Year() == now.Year() && created.Month() == now.Month() {
				newThisMonth++
			}
		}
		for _, list := range s.notifications {
			for _, n := range list {
				if !n.IsRead {
					pending++
				}
			}
		}
		stats.TotalUsers = &total
		stats.NewUsersThisMonth = &newThisMonth
		stats.PendingNotifications = &pending
		break
	}

	writeData(w, http.StatusOK, "", stats)
}

// dropRefreshLocked revokes every refresh token of a user. Callers hold s.mu.
func (s *Server) dropRefreshLocked(userID int64) {
	for token, grant := range s.refresh {
		if grant.userID == userID {
			delete(s.refresh, token)
		}
	}
}

func validateUser(fullName, email string, roleIDs []int64) ([]string, []string) {
	var errs []string
	if strings.TrimSpace(fullName) == "" {
		errs = append(errs, "Full name is required")
	}
	if strings.TrimSpace(email) == "" {
		errs = append(errs, "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs = append(errs, "Email is invalid")
	}

	names := make(map[int64]string, len(types.RoleIDs))
	for name, id := range types.RoleIDs {
		names[id] = name
	}

	var roles []string
	for _, id := range roleIDs {
		name, ok := names[id]
		if !ok {
			errs = append(errs, "Unknown role ID "+strconv.FormatInt(id, 10))
			continue
		}
		roles = append(roles, name)
	}
	if len(roleIDs) == 0 {
		errs = append(errs, "At least one role is required")
	}
	return roles, errs
}

func temporaryPassword() string {
	return "Tmp-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}
