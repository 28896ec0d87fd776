package service

import (
	"context"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

// PartyResolver maps students onto identities known to billing and notifications.
type PartyResolver interface {
	BillingParty(ctx context.Context, student *models.Student) (string, error)
	Guardians(ctx context.Context, student *models.Student) ([]string, error)
}

// StoredPartyResolver answers from the identifiers stored on the student row.
type StoredPartyResolver struct{}

// BillingParty returns the student's own party id.
func (StoredPartyResolver) BillingParty(_ context.Context, student *models.Student) (string, error) {
	return student.PartyID, nil
}

// Guardians returns the stored guardian party ids.
func (StoredPartyResolver) Guardians(_ context.Context, student *models.Student) ([]string, error) {
	return append([]string(nil), student.GuardianPartyIDs...), nil
}
