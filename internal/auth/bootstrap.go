package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/darshan-rambhia/devwatch/internal/model"
	"github.com/darshan-rambhia/devwatch/internal/store"
)

// BootstrapAdmin describes the administrator created on first start.
type BootstrapAdmin struct {
	Username string
	Password string
	Email    string
	Phone    string
	Nickname string
}

// DefaultBootstrapAdmin returns the placeholder administrator account.
func DefaultBootstrapAdmin() BootstrapAdmin {
	return BootstrapAdmin{
		Username: "admin",
		Password: "admin123",
		Email:    "admin@example.com",
		Phone:    "13800138000",
		Nickname: "System Administrator",
	}
}

// AccountStore is the subset of the store needed to bootstrap accounts.
type AccountStore interface {
	GetUserIDByUsername(username string) (int64, error)
	AddUser(u model.NewUser) (int64, error)
}

// EnsureDefaultAdmin creates the bootstrap administrator if no user with its
// username exists. The placeholder password must be changed on first login.
// It reports whether an account was created.
func EnsureDefaultAdmin(st AccountStore, admin BootstrapAdmin) (bool, error) {
	if admin.Username == "" || admin.Password == "" {
		return false, invalid("bootstrap admin username and password are required")
	}
	_, err := st.GetUserIDByUsername(admin.Username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("checking bootstrap admin: %w", err)
	}

	if _, err := st.AddUser(model.NewUser{
		Username:           admin.Username,
		Password:           admin.Password,
		Email:              admin.Email,
		Phone:              admin.Phone,
		Nickname:           admin.Nickname,
		Role:               model.RoleAdmin,
		MustChangePassword: true,
	}); err != nil {
		return false, fmt.Errorf("creating bootstrap admin: %w", err)
	}
	slog.Warn("created default admin account; change its password on first login", "username", admin.Username)
	return true, nil
}
