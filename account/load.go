package account

import (
	"fmt"
	"os"
	"strings"

	"github.com/PaulFidika/iapkit/core"
)

// EnvCredentials names the variable holding the key file path. An inline JSON
// document is accepted too, which is convenient for secrets injected as env.
const EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"

// LoadFile reads and validates a JSON key file.
func LoadFile(path string) (ServiceAccount, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ServiceAccount{}, fmt.Errorf("%w: account: empty key file path", core.ErrConfiguration)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("%w: account: read key file: %w", core.ErrConfiguration, err)
	}
	return ParseServiceAccount(data)
}

// LoadFromEnv loads the service account named by GOOGLE_APPLICATION_CREDENTIALS.
func LoadFromEnv() (ServiceAccount, error) {
	v := strings.TrimSpace(os.Getenv(EnvCredentials))
	if v == "" {
		return ServiceAccount{}, fmt.Errorf("%w: account: %s is not set", core.ErrConfiguration, EnvCredentials)
	}
	if strings.HasPrefix(v, "{") {
		return ParseServiceAccount([]byte(v))
	}
	return LoadFile(v)
}
