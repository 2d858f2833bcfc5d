package models

// Post is the unit handed to the unread ledger and the notification
// sink. Created is milliseconds since epoch.
type Post struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Created int64  `json:"created"`
}

// Settings drives the update scheduler. The engine only reads it.
type Settings struct {
	UpdatePeriodMinutes int `json:"updatePeriodMinutes"`
}

// DefaultSettings returns the settings used before the user saves any.
func DefaultSettings() Settings {
	return Settings{UpdatePeriodMinutes: 30}
}
