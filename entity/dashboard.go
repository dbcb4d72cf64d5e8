package entity

type DashboardStats struct {
	TotalSessions   int            `json:"total_sessions"`
	ByStatus        map[string]int `json:"by_status"`
	ByChannel       map[string]int `json:"by_channel"`
	ActiveLast24h   int            `json:"active_last_24h"`
	MessagesLast24h int            `json:"messages_last_24h"`
}
