package dto

type ContactDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type CampaignDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type StartCampaignResponse struct {
	CampaignID string `json:"campaignId"`
	Status     string `json:"status"`
	JobID      string `json:"jobId"`
}

type OpportunityDTO struct {
	ID          string `json:"id"`
	ContactID   string `json:"contactId"`
	ContactName string `json:"contactName"`
	StageID     string `json:"stageId"`
	StageName   string `json:"stageName"`
	Pipeline    string `json:"pipeline"`
	Title       string `json:"title"`
	AmountCents int64  `json:"amountCents"`
	CreatedAt   string `json:"createdAt"`
}

type NotificationDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

type ListNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Unread        int               `json:"unread"`
}

type UploadResponse struct {
	MediaURL     string `json:"mediaUrl"`
	MediaType    string `json:"mediaType"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}
