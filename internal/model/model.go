// Package model defines all shared domain types for devwatch.
package model

import (
	"fmt"
	"time"
)

// Role is the authorization level of a user account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AlarmStatus is the processing state of an alarm record.
type AlarmStatus string

const (
	AlarmUnprocessed AlarmStatus = "unprocessed"
	AlarmProcessing  AlarmStatus = "processing"
	AlarmResolved    AlarmStatus = "resolved"
)

// Valid reports whether s is a known alarm status.
func (s AlarmStatus) Valid() bool {
	switch s {
	case AlarmUnprocessed, AlarmProcessing, AlarmResolved:
		return true
	}
	return false
}

// User is a console account. PasswordHash is never the plaintext.
type User struct {
	ID                 int64  `json:"id"`
	Username           string `json:"username"`
	PasswordHash       string `json:"-"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Nickname           string `json:"nickname,omitempty"`
	Role               Role   `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

// NewUser carries the fields needed to create an account.
type NewUser struct {
	Username           string
	Password           string // plaintext, hashed by the store
	Email              string
	Phone              string
	Nickname           string
	Role               Role
	MustChangePassword bool
}

// Identity is the result of a successful credential check.
type Identity struct {
	UserID             int64  `json:"user_id"`
	Username           string `json:"username"`
	Role               Role   `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Device is a monitored piece of hardware.
type Device struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Location         string    `json:"location"`
	Manufacturer     string    `json:"manufacturer,omitempty"`
	Model            string    `json:"model,omitempty"`
	InstallationDate time.Time `json:"installation_date"` // date only; zero if unknown
	GroupID          *int64    `json:"group_id,omitempty"`
}

// DeviceGroup is a named bucket of devices within a group type namespace
// such as "type" or "location".
type DeviceGroup struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	GroupType string `json:"group_type"`
}

// MonitorSample is one environmental reading from a device.
type MonitorSample struct {
	ID          int64     `json:"id"`
	DeviceID    int64     `json:"device_id"`
	Timestamp   time.Time `json:"ts"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Light       float64   `json:"light"`
}

// AlarmRule is an admin-defined rule. Condition and Action are opaque text
// interpreted by an external engine.
type AlarmRule struct {
	ID          int64  `json:"id"`
	DeviceID    int64  `json:"device_id"`
	Description string `json:"description"`
	Condition   string `json:"condition"`
	Action      string `json:"action"`
}

// AlarmRecord is a raised alarm and its handling state.
type AlarmRecord struct {
	ID        int64       `json:"id"`
	DeviceID  int64       `json:"device_id"`
	Timestamp time.Time   `json:"ts"`
	Content   string      `json:"content"`
	Status    AlarmStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
}

// AlarmFilter narrows an alarm record query. Unset fields are not applied.
type AlarmFilter struct {
	DeviceID *int64
	Status   AlarmStatus
	Start    time.Time
	End      time.Time
}

// LogLevel is the severity of a system log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// LogEntry is a new audit-trail record. Nil UserID or DeviceID means the
// entry is not associated with a user or device.
type LogEntry struct {
	Type     string
	Level    LogLevel
	Content  string
	UserID   *int64
	DeviceID *int64
}

// SystemLog is a stored audit-trail record.
type SystemLog struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"log_type"`
	Level     LogLevel  `json:"log_level"`
	Content   string    `json:"content"`
	UserID    *int64    `json:"user_id,omitempty"`
	DeviceID  *int64    `json:"device_id,omitempty"`
}

// Ref returns a pointer to id, for optional references.
func Ref(id int64) *int64 { return &id }
