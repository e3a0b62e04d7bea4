package queue

// Job names
const (
	JobSendMessage     = "send-message"
	JobDispatchBatch   = "dispatch-batch"
	JobExecuteCampaign = "execute-campaign"
	JobCleanupTickets  = "cleanup-tickets"
)

// SendMessagePayload asks for one stored outbound message to be delivered
type SendMessagePayload struct {
	TenantID  string `json:"tenantId"`
	MessageID string `json:"messageId"`
}

// CampaignPayload asks for a campaign to be expanded into dispatch batches
type CampaignPayload struct {
	TenantID   string `json:"tenantId"`
	CampaignID string `json:"campaignId"`
}

// BulkDispatchPayload is one batch of campaign recipients
type BulkDispatchPayload struct {
	TenantID     string   `json:"tenantId"`
	CampaignID   string   `json:"campaignId"`
	RecipientIDs []string `json:"recipientIds"`
}

// CleanupPayload triggers a ticket cleanup run
type CleanupPayload struct {
	TriggeredBy string `json:"triggeredBy"`
}
