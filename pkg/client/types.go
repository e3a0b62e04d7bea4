package client

// Ticket mirrors the API ticket representation
type Ticket struct {
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

type TicketPage struct {
	Tickets []Ticket `json:"tickets"`
	Count   int      `json:"count"`
	HasMore bool     `json:"hasMore"`
}

type Message struct {
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

type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

type NotificationList struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

type Upload struct {
	MediaURL     string `json:"mediaUrl"`
	MediaType    string `json:"mediaType"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// TicketUpdate is the payload of ticket:updated
type TicketUpdate struct {
	TicketID string `json:"ticketId"`
	Status   string `json:"status"`
}

// MessageEvent is the payload of message:created
type MessageEvent struct {
	TicketID string  `json:"ticketId"`
	Message  Message `json:"message"`
}
