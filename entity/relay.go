package entity

// ReplyResult is a stored staff reply and whether it reached the bot gateway.
type ReplyResult struct {
	Message   *ChatMessage `json:"message"`
	Forwarded bool         `json:"forwarded"`
}

// RelayStatus is the connectivity summary shown to staff.
type RelayStatus struct {
	Connected    bool   `json:"connected"`
	URL          string `json:"url"`
	State        string `json:"state"`
	StaffClients int    `json:"staff_clients"`
}
