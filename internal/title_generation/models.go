package title_generation

// GenerateRequest contains the parameters of one title generation call.
type GenerateRequest struct {
	Model       string
	BaseURL     string
	APIKey      string
	UserContent string // The message to generate a title from
}
