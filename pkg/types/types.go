package types

import (
	"time"
)

// Role names used by the backend
const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
	RoleUser    = "User"
)

// Credentials is the login request body
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is the authenticated user as returned by the login endpoint.
// It is cached by the token store and read-only everywhere else.
type Profile struct {
	UserID         int64    `json:"userID"`
	FullName       string   `json:"fullName"`
	Email          string   `json:"email"`
	EmployeeNo     string   `json:"employeeNo,omitempty"`
	Roles          []string `json:"roles"`
	IsTempPassword bool     `json:"isTempPassword"`
	AccessToken    string   `json:"accessToken"`
	RefreshToken   string   `json:"refreshToken"`
	ExpiresAt      string   `json:"expiresAt"`
}

// MustChangePassword reports whether the user is still on a temporary password
func (p *Profile) MustChangePassword() bool {
	return p != nil && p.IsTempPassword
}

// HasRole reports whether the profile carries the given role
func (p *Profile) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair is the refresh endpoint response
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest is the refresh endpoint request body
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest is the change-password request body
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// NotificationKind classifies a notification
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "Info"
	NotificationSuccess NotificationKind = "Success"
	NotificationWarning NotificationKind = "Warning"
	NotificationError   NotificationKind = "Error"
)

// Notification is a single user notification
type Notification struct {
	ID        int64            `json:"notificationID"`
	UserID    int64            `json:"userID,omitempty"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"type"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdDate"`
	ReadAt    *time.Time       `json:"readDate,omitempty"`
}

// ConnectionState is the lifecycle state of the realtime channel
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// User is an account as seen by the admin endpoints
type User struct {
	UserID             int64      `json:"userID"`
	DocumentEmployeeNo string     `json:"documentEmployeeNo,omitempty"`
	EmployeeNo         string     `json:"employeeNo,omitempty"`
	FullName           string     `json:"fullName"`
	Email              string     `json:"email"`
	IsTempPassword     bool       `json:"isTempPassword"`
	IsActive           bool       `json:"isActive"`
	LastLoginDate      *time.Time `json:"lastLoginDate,omitempty"`
	CreatedDate        time.Time  `json:"createdDate"`
	Roles              []string   `json:"roles"`
}

// CreateUserRequest is the admin create-user body
type CreateUserRequest struct {
	DocumentEmployeeNo string  `json:"documentEmployeeNo,omitempty"`
	EmployeeNo         string  `json:"employeeNo,omitempty"`
	FullName           string  `json:"fullName"`
	Email              string  `json:"email"`
	RoleIDs            []int64 `json:"roleIDs"`
}

// UpdateUserRequest is the admin update-user body
type UpdateUserRequest struct {
	UserID             int64   `json:"userID"`
	DocumentEmployeeNo string  `json:"documentEmployeeNo,omitempty"`
	EmployeeNo         string  `json:"employeeNo,omitempty"`
	FullName           string  `json:"fullName"`
	Email              string  `json:"email"`
	IsActive           bool    `json:"isActive"`
	RoleIDs            []int64 `json:"roleIDs"`
}

// DashboardStats backs both the admin and the user dashboards
type DashboardStats struct {
	TotalUsers           *int    `json:"totalUsers,omitempty"`
	NewUsersThisMonth    *int    `json:"newUsersThisMonth,omitempty"`
	PendingNotifications *int    `json:"pendingNotifications,omitempty"`
	TodayActivities      *int    `json:"todayActivities,omitempty"`
	UnreadNotifications  *int    `json:"unreadNotifications,omitempty"`
	LastLogin            *string `json:"lastLogin,omitempty"`
	WeeklyActivities     *int    `json:"weeklyActivities,omitempty"`
}

// Envelope wraps every REST response from the backend
type Envelope[T any] struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	Data    T        `json:"data,omitempty"`
}

// RoleIDs maps role names to the numeric IDs the admin endpoints expect
var RoleIDs = map[string]int64{
	RoleAdmin:   1,
	RoleManager: 2,
	RoleUser:    3,
}

// Outcome is the result of a user-facing operation. A failure carries a
// message ready to show to the user instead of an error value.
type Outcome[T any] struct {
	OK      bool
	Value   T
	Message string
}

// Succeeded returns a successful outcome
func Succeeded[T any](value T, message string) Outcome[T] {
	return Outcome[T]{OK: true, Value: value, Message: message}
}

// Failed returns a failed outcome
func Failed[T any](message string) Outcome[T] {
	return Outcome[T]{Message: message}
}
