package config

// SecretStringValue replaces secrets in any configuration output.
const SecretStringValue = "<secret>"

// SecretString holds values which must never be dumped or logged, fetch
// authorization header for example. Use string conversion to get the value.
type SecretString string

func (s SecretString) String() string {
	if len(s) == 0 {
		return ""
	}
	return SecretStringValue
}

// MarshalJSON hides value in JSON output.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte("\"" + SecretStringValue + "\""), nil
}

// MarshalYAML hides value in dumped configuration.
func (s SecretString) MarshalYAML() (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return SecretStringValue, nil
}
