package auth

import "github.com/golang-jwt/jwt/v5"

// ManagerClaims is the JWT claims structure for authenticated managers.
// A manager account owns jobs 1:1 — the ManagerID is the owner identifier
// used to scope job lists and the owner update stream.
type ManagerClaims struct {
	jwt.RegisteredClaims
	ManagerID string `json:"manager_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
}
