// Package account handles Google service account credentials: parsing and
// validating the JSON key record, loading it from disk or the environment, and
// minting signed JWT-bearer assertions with its private key.
package account

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PaulFidika/iapkit/core"
	jwtkit "github.com/PaulFidika/iapkit/jwt"
)

// ServiceAccount is a Google IAM service account key file.
type ServiceAccount struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// requiredFields lists every JSON key a key file must carry.
var requiredFields = []string{
	"type",
	"project_id",
	"private_key_id",
	"private_key",
	"client_email",
	"client_id",
	"auth_uri",
	"token_uri",
	"auth_provider_x509_cert_url",
	"client_x509_cert_url",
}

// ParseServiceAccount decodes and validates a JSON key file. Unknown keys
// (e.g. universe_domain) are ignored.
func ParseServiceAccount(data []byte) (ServiceAccount, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ServiceAccount{}, fmt.Errorf("%w: account: decode service account: %w", core.ErrConfiguration, err)
	}
	return ServiceAccountFromMap(raw)
}

// ServiceAccountFromMap builds a validated ServiceAccount from a loosely typed
// record. Every required key must be present and hold a non-empty string.
func ServiceAccountFromMap(m map[string]any) (ServiceAccount, error) {
	vals := make(map[string]string, len(requiredFields))
	var missing, mistyped []string
	for _, name := range requiredFields {
		v, ok := m[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		s, ok := v.(string)
		if !ok {
			mistyped = append(mistyped, name)
			continue
		}
		vals[name] = s
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ServiceAccount{}, fmt.Errorf("%w: account: missing fields: %s", core.ErrConfiguration, strings.Join(missing, ", "))
	}
	if len(mistyped) > 0 {
		sort.Strings(mistyped)
		return ServiceAccount{}, fmt.Errorf("%w: account: fields must be strings: %s", core.ErrConfiguration, strings.Join(mistyped, ", "))
	}
	sa := ServiceAccount{
		Type:                    vals["type"],
		ProjectID:               vals["project_id"],
		PrivateKeyID:            vals["private_key_id"],
		PrivateKey:              vals["private_key"],
		ClientEmail:             vals["client_email"],
		ClientID:                vals["client_id"],
		AuthURI:                 vals["auth_uri"],
		TokenURI:                vals["token_uri"],
		AuthProviderX509CertURL: vals["auth_provider_x509_cert_url"],
		ClientX509CertURL:       vals["client_x509_cert_url"],
	}
	if err := sa.Validate(); err != nil {
		return ServiceAccount{}, err
	}
	return sa, nil
}

func (sa ServiceAccount) fieldValues() map[string]string {
	return map[string]string{
		"type":                        sa.Type,
		"project_id":                  sa.ProjectID,
		"private_key_id":              sa.PrivateKeyID,
		"private_key":                 sa.PrivateKey,
		"client_email":                sa.ClientEmail,
		"client_id":                   sa.ClientID,
		"auth_uri":                    sa.AuthURI,
		"token_uri":                   sa.TokenURI,
		"auth_provider_x509_cert_url": sa.AuthProviderX509CertURL,
		"client_x509_cert_url":        sa.ClientX509CertURL,
	}
}

// Validate checks that every field is set and that the private key parses.
func (sa ServiceAccount) Validate() error {
	if err := sa.validateFields(); err != nil {
		return err
	}
	_, err := sa.rsaSigner()
	return err
}

func (sa ServiceAccount) validateFields() error {
	vals := sa.fieldValues()
	var empty []string
	for _, name := range requiredFields {
		if strings.TrimSpace(vals[name]) == "" {
			empty = append(empty, name)
		}
	}
	if len(empty) > 0 {
		return fmt.Errorf("%w: account: empty fields: %s", core.ErrConfiguration, strings.Join(empty, ", "))
	}
	return nil
}

func (sa ServiceAccount) rsaSigner() (*jwtkit.RSASigner, error) {
	s, err := jwtkit.NewRSASignerFromPEM(sa.PrivateKeyID, []byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: account: private_key: %w", core.ErrConfiguration, err)
	}
	return s, nil
}
