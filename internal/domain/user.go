package domain

import (
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Address    string    `json:"address"`
	PostalCode string    `json:"postal_code"`
	Password   string    `json:"-"` // bcrypt hash, never serialized
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProfileComplete gates booking: both address and postal code must be set.
func (u *User) ProfileComplete() bool {
	return strings.TrimSpace(u.Address) != "" && strings.TrimSpace(u.PostalCode) != ""
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type RegisterUserDTO struct {
	Name       string `json:"name" binding:"required,min=2,max=100"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6,max=100"`
	Address    string `json:"address,omitempty" binding:"max=200"`
	PostalCode string `json:"postal_code,omitempty" binding:"max=10"`
}

type LoginUserDTO struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UpdateProfileDTO struct {
	Name       string `json:"name" binding:"required,min=2,max=100"`
	Address    string `json:"address" binding:"max=200"`
	PostalCode string `json:"postal_code" binding:"max=10"`
}

type AuthResponseDTO struct {
	Token  string `json:"token"`
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}
