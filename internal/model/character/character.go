package character

// Character captures the role-playing attributes a user can pick.
// Characters are static configuration, not user-owned data; sessions
// reference them by ID only.
type Character struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	Description  string `json:"description"`
	Tone         string `json:"tone"`
	SystemPrompt string `json:"systemPrompt"`
	AccentColor  string `json:"accentColor"`
}
