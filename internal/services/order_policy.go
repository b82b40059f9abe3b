package services

import "shopcore/internal/models"

// CanActorTransition is the single capability check for status changes.
// Admins may perform every legal transition; customers may only cancel an
// order that has not started processing. Illegal transitions are never
// allowed, whatever the role.
func CanActorTransition(role models.Role, from, to models.OrderStatus) bool {
	if !from.CanTransitionTo(to) {
		return false
	}
	switch role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return from == models.StatusPending && to == models.StatusCancelled
	default:
		return false
	}
}
