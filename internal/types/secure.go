package types

// SecretString wraps sensitive configuration values (connection strings,
// passwords) so they cannot leak through logging or JSON serialization.
// The raw value is only reachable through Value().
type SecretString struct {
	value string
}

// NewSecretString wraps a raw secret value.
func NewSecretString(v string) SecretString {
	return SecretString{value: v}
}

// Value returns the underlying secret.
func (s SecretString) Value() string {
	return s.value
}

// String implements fmt.Stringer and always redacts.
func (s SecretString) String() string {
	if s.value == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalJSON redacts the secret in any JSON output.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalText allows envconfig to populate the secret from the
// environment.
func (s *SecretString) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}
