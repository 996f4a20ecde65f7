package types

// Environment selects which provider endpoints a registered adapter talks to
type Environment string

const (
	EnvironmentTest       Environment = "test"
	EnvironmentProduction Environment = "production"
)

// Credentials holds the secret material used to authenticate with one
// provider. Loaded once at registration time and never mutated afterwards.
// Not every provider uses every field.
type Credentials struct {
	Environment Environment
	APIKey      string
	APISecret   string
	ClientID    string
	Username    string
	Password    string
	CustomerID  string
	BaseURL     string // overrides the provider's default endpoint when set
}

// Redacted returns a loggable description of which credential fields are
// present without exposing their values.
func (c Credentials) Redacted() map[string]bool {
	return map[string]bool{
		"api_key":     c.APIKey != "",
		"api_secret":  c.APISecret != "",
		"client_id":   c.ClientID != "",
		"username":    c.Username != "",
		"password":    c.Password != "",
		"customer_id": c.CustomerID != "",
	}
}
