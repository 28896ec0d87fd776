package models

import "github.com/golang-jwt/jwt/v5"

// UserRole is the role asserted by the identity provider in the bearer token.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStaff   UserRole = "STAFF"
	RoleTeacher UserRole = "TEACHER"
)

// JWTClaims represents the JWT payload for access tokens. TenantID scopes every store operation.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}
