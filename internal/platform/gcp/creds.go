package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptionsFromEnv resolves credentials for the storage and video
// intelligence clients. GOOGLE_APPLICATION_CREDENTIALS_JSON carries inline
// service-account JSON (useful in containers); GOOGLE_APPLICATION_CREDENTIALS
// points at a key file. With neither set, ADC applies.
func ClientOptionsFromEnv() []option.ClientOption {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); inline != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(inline))}
	}
	keyFile := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if keyFile == "" {
		return nil
	}
	if strings.HasPrefix(keyFile, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(keyFile))}
	}
	return []option.ClientOption{option.WithCredentialsFile(keyFile)}
}
