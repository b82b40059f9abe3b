package services

import "shopcore/internal/models"

// Actor is the authenticated principal a service call runs on behalf of.
type Actor struct {
	UserID string
	Role   models.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// owns reports whether the actor may see an order belonging to userID.
func (a Actor) owns(userID string) bool {
	return a.IsAdmin() || a.UserID == userID
}
