package services

import (
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
)

// ValidateActor checks the identity the auth middleware attached to the request
func ValidateActor(actor models.Actor) error {
	if actor.OrgID == uuid.Nil || actor.UserID == uuid.Nil {
		return ErrUnauthorized
	}
	if !actor.Role.IsValid() {
		return NewDomainError(ErrorTypeForbidden, ErrInsufficientPermissions.Message, nil).
			WithDetail("role", actor.Role)
	}
	return nil
}

// RequirePermission validates actor and fails with forbidden when allowed is false.
// action names the denied operation in the error details.
func RequirePermission(actor models.Actor, allowed bool, action string) error {
	if err := ValidateActor(actor); err != nil {
		return err
	}
	if !allowed {
		return NewDomainError(ErrorTypeForbidden, ErrInsufficientPermissions.Message, nil).
			WithDetail("role", actor.Role).
			WithDetail("action", action)
	}
	return nil
}
