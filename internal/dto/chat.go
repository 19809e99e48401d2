package dto

// JoinRequest is the payload of a "join" frame.
type JoinRequest struct {
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId,omitempty"`
}

// SendRequest is the payload of a "send" frame.
type SendRequest struct {
	Content string `json:"content"`
}
