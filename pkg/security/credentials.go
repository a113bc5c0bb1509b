package security

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"callinsight-server/pkg/errors"
)

// CredentialSource identifies where Google credentials were found.
type CredentialSource string

const (
	// SourceInlineJSON means GOOGLE_APPLICATION_CREDENTIALS_JSON held the
	// full service-account JSON.
	SourceInlineJSON CredentialSource = "inline-json"

	// SourceBase64 means GOOGLE_CREDENTIALS_BASE64 held base64-encoded
	// service-account JSON.
	SourceBase64 CredentialSource = "base64-json"

	// SourceKeyFile means GOOGLE_APPLICATION_CREDENTIALS pointed at a key
	// file on disk.
	SourceKeyFile CredentialSource = "key-file"

	// SourceDefault means no explicit credentials were configured and the
	// client falls back to application default credentials.
	SourceDefault CredentialSource = "application-default"
)

// GoogleCredentials is the resolved credential configuration, computed
// once at startup and reused for every client, never per request.
type GoogleCredentials struct {
	Source  CredentialSource
	Options []option.ClientOption
}

// ResolveGoogleCredentials probes the supported environment-variable
// shapes in priority order: base64 JSON, inline JSON, key file path,
// then application default discovery.
func ResolveGoogleCredentials(logger *logrus.Logger) (*GoogleCredentials, error) {
	if b64 := strings.TrimSpace(os.Getenv("GOOGLE_CREDENTIALS_BASE64")); b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, errors.Wrap(errors.ErrProviderUnavailable, "invalid GOOGLE_CREDENTIALS_BASE64",
				map[string]interface{}{"cause": err.Error()})
		}
		if err := validateCredentialJSON(raw); err != nil {
			return nil, err
		}
		logger.WithField("source", SourceBase64).Info("Resolved Google credentials")
		return &GoogleCredentials{
			Source:  SourceBase64,
			Options: []option.ClientOption{option.WithCredentialsJSON(raw)},
		}, nil
	}

	if inline := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); inline != "" {
		if err := validateCredentialJSON([]byte(inline)); err != nil {
			return nil, err
		}
		logger.WithField("source", SourceInlineJSON).Info("Resolved Google credentials")
		return &GoogleCredentials{
			Source:  SourceInlineJSON,
			Options: []option.ClientOption{option.WithCredentialsJSON([]byte(inline))},
		}, nil
	}

	if keyFile := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); keyFile != "" {
		resolved := keyFile
		if !filepath.IsAbs(resolved) {
			if wd, err := os.Getwd(); err == nil {
				resolved = filepath.Join(wd, resolved)
			}
		}
		if _, err := os.Stat(resolved); err != nil {
			return nil, errors.Wrap(errors.ErrProviderUnavailable, "Google credentials file not found",
				map[string]interface{}{"path": resolved})
		}
		logger.WithFields(logrus.Fields{
			"source": SourceKeyFile,
			"path":   resolved,
		}).Info("Resolved Google credentials")
		return &GoogleCredentials{
			Source:  SourceKeyFile,
			Options: []option.ClientOption{option.WithCredentialsFile(resolved)},
		}, nil
	}

	logger.WithField("source", SourceDefault).Info("No explicit Google credentials, using application default discovery")
	return &GoogleCredentials{Source: SourceDefault}, nil
}

func validateCredentialJSON(raw []byte) error {
	var probe map[string]interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return errors.Wrap(errors.ErrProviderUnavailable, "Google credential JSON does not parse",
			map[string]interface{}{"cause": err.Error()})
	}
	return nil
}
