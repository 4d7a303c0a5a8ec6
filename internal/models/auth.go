package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the roles known to the planning API.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RolePlanner UserRole = "planner"
)

// JWTClaims represents the JWT payload issued by the sign-in service.
// The email is the editor identity stored on a locked center.
type JWTClaims struct {
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Role  UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Planner links a user to a center they may plan.
type Planner struct {
	UserEmail  string `db:"user_email" json:"user_email"`
	CenterName string `db:"center_name" json:"center_name"`
}
