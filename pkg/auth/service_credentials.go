package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/netra-ai/netra/pkg/faults"
)

// CredentialValidator checks that a service caller is allowed to perform an
// operation. Implemented by ServiceCredentialValidator; faked in tests.
type CredentialValidator interface {
	ValidateServiceCredentials(ctx context.Context, serviceName, operation string) error
}

// ServiceCredentials holds the configured service-to-service secrets.
// Empty fields mean the deployment has no service auth configured, which is
// a configuration fault the moment a service caller shows up.
type ServiceCredentials struct {
	ServiceID     string
	ServiceSecret string
	ServiceToken  string
}

// Configured reports whether both the id and the secret are present.
func (c ServiceCredentials) Configured() bool {
	return c.ServiceID != "" && c.ServiceSecret != ""
}

// ServiceCredentialValidator validates HS256 service tokens against the
// configured secret. The token's subject must match the calling service name.
type ServiceCredentialValidator struct {
	creds ServiceCredentials
}

// NewServiceCredentialValidator builds a validator over the given credentials.
func NewServiceCredentialValidator(creds ServiceCredentials) *ServiceCredentialValidator {
	return &ServiceCredentialValidator{creds: creds}
}

type serviceClaims struct {
	Operation string `json:"operation,omitempty"`
	jwt.RegisteredClaims
}

// ValidateServiceCredentials checks the configured token for the given
// service and operation. Missing configuration is a Configuration fault;
// a present-but-bad token is a Policy fault. The two must never be conflated:
// operators need to know whether to fix env vars or to investigate a caller.
func (v *ServiceCredentialValidator) ValidateServiceCredentials(ctx context.Context, serviceName, operation string) error {
	if !v.creds.Configured() {
		return faults.Newf(faults.KindConfiguration, faults.CodeMissingServiceCredentials,
			"no service credentials configured for %q", serviceName).
			WithHint("set SERVICE_ID and SERVICE_SECRET in the environment")
	}
	if v.creds.ServiceToken == "" {
		return faults.Newf(faults.KindConfiguration, faults.CodeMissingServiceCredentials,
			"service credentials configured but no token present for %q", serviceName).
			WithHint("set SERVICE_TOKEN or mint one with MintServiceToken")
	}

	parsed, err := jwt.ParseWithClaims(v.creds.ServiceToken, &serviceClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(v.creds.ServiceSecret), nil
	})
	if err != nil {
		return faults.Wrap(err, faults.KindPolicy, faults.CodeServiceRejected,
			"service token rejected for "+serviceName)
	}

	claims, ok := parsed.Claims.(*serviceClaims)
	if !ok || !parsed.Valid {
		return faults.New(faults.KindPolicy, faults.CodeServiceRejected,
			"service token invalid for "+serviceName)
	}
	if strings.TrimSpace(claims.Subject) != serviceName {
		return faults.Newf(faults.KindPolicy, faults.CodeServiceRejected,
			"service token subject %q does not match caller %q", claims.Subject, serviceName)
	}

	slog.Debug("Service credentials validated",
		"service", serviceName, "operation", operation)
	return nil
}

// MintServiceToken issues a signed service token. Used by deploy tooling and
// tests; the server side only verifies.
func MintServiceToken(creds ServiceCredentials, serviceName, operation string, expiry time.Duration) (string, error) {
	if !creds.Configured() {
		return "", faults.New(faults.KindConfiguration, faults.CodeMissingServiceCredentials,
			"cannot mint a service token without SERVICE_ID and SERVICE_SECRET")
	}
	claims := serviceClaims{
		Operation: operation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   serviceName,
			Issuer:    creds.ServiceID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(creds.ServiceSecret))
}
