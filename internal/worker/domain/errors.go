package domain

import "errors"

var (
	// ErrMessageNotFound is returned when an outbound message no longer exists
	ErrMessageNotFound = errors.New("message not found")

	// ErrCampaignNotFound is returned when a campaign no longer exists
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrInvalidPayload is returned when job data cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrNoRecipientPhone is returned when the ticket contact has no phone number
	ErrNoRecipientPhone = errors.New("contact has no phone number")
)
