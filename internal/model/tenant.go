package model

// GenerationParams are the tenant-selected model settings applied to every
// reply generation.
type GenerationParams struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ChannelCredentials authenticate outbound calls to the channel API for one
// tenant.
type ChannelCredentials struct {
	AccessToken   string `json:"access_token"`
	PhoneNumberID string `json:"phone_number_id"`
	APIVersion    string `json:"api_version,omitempty"`
}

// TenantConfig is the resolved per-tenant configuration used across the
// webhook pipeline.
type TenantConfig struct {
	TenantID       string             `json:"tenant_id"`
	Schema         string             `json:"schema"`
	Name           string             `json:"name,omitempty"`
	Generation     GenerationParams   `json:"generation"`
	Channel        ChannelCredentials `json:"channel"`
	SystemPrompt   string             `json:"system_prompt,omitempty"`
	TemplateName   string             `json:"template_name,omitempty"`
	CatalogBaseURL string             `json:"catalog_base_url,omitempty"`
}
