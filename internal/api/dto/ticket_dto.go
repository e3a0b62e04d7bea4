package dto

type ListTicketsRequest struct {
	Status     string `form:"status"`
	Search     string `form:"search"`
	PageNumber int    `form:"pageNumber"`
	Limit      int    `form:"limit"`
}

type ListTicketsResponse struct {
	Tickets []TicketDTO `json:"tickets"`
	Count   int         `json:"count"`
	HasMore bool        `json:"hasMore"`
}

type TicketDTO struct {
	ID           string  `json:"id"`
	ContactID    string  `json:"contactId"`
	ContactName  string  `json:"contactName"`
	ContactPhone string  `json:"contactPhone"`
	UserID       *string `json:"userId"`
	Status       string  `json:"status"`
	LastMessage  string  `json:"lastMessage"`
	UnreadCount  int     `json:"unreadCount"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

type UpdateTicketRequest struct {
	Status string `json:"status"`
}

type ListMessagesRequest struct {
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

type ListMessagesResponse struct {
	Messages   []MessageDTO `json:"messages"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

type CreateMessageRequest struct {
	Body      string `json:"body"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

type MessageDTO struct {
	ID         string `json:"id"`
	TicketID   string `json:"ticketId"`
	Body       string `json:"body"`
	FromMe     bool   `json:"fromMe"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
	Status     string `json:"status"`
	ExternalID string `json:"externalId,omitempty"`
	CreatedAt  string `json:"createdAt"`
}
