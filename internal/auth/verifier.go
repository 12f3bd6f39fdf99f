package auth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sundayezeilo/linkshare/internal/errx"
)

// Claims are the identity provider claims the service reads.
type Claims struct {
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(raw string) (Principal, error)
}

// VerifierConfig holds verification material. Exactly one of Secret or PublicKeyPEM
// must be set.
type VerifierConfig struct {
	Issuer       string
	Audience     string
	Secret       []byte
	PublicKeyPEM []byte
	Leeway       time.Duration
	Now          func() time.Time
}

// Verifier checks signature, exp, iss, aud (when configured) and a non-empty sub.
type Verifier struct {
	parser *jwt.Parser
	key    any
}

// NewVerifier builds a Verifier, pinning the accepted algorithms to the key type.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}
	if (len(cfg.Secret) == 0) == (len(cfg.PublicKeyPEM) == 0) {
		return nil, errors.New("auth: exactly one of secret or public key is required")
	}

	var (
		key     any
		methods []string
	)
	if len(cfg.Secret) > 0 {
		key = cfg.Secret
		methods = []string{jwt.SigningMethodHS256.Alg()}
	} else {
		var err error
		key, methods, err = parsePublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &Verifier{parser: jwt.NewParser(opts...), key: key}, nil
}

func parsePublicKey(pemBytes []byte) (any, []string, error) {
	if k, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return k, []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		return k, []string{"ES256", "ES384", "ES512"}, nil
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(pemBytes); err == nil {
		return k, []string{"EdDSA"}, nil
	}
	return nil, nil, errors.New("auth: public key is not a PEM encoded RSA, EC or Ed25519 key")
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch v.key.(type) {
	case []byte, *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return v.key, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", v.key)
	}
}

// Verify returns a user principal for a valid token.
func (v *Verifier) Verify(raw string) (Principal, error) {
	const op = "auth.verifier.Verify"

	var claims Claims
	if _, err := v.parser.ParseWithClaims(raw, &claims, v.keyFunc); err != nil {
		return Principal{}, errx.E(op, errx.Unauthorized, err)
	}
	if claims.Subject == "" {
		return Principal{}, errx.E(op, errx.Unauthorized, errors.New("token has no subject"))
	}

	return Principal{
		UserID: claims.Subject,
		Role:   RoleUser,
		Email:  claims.Email,
	}, nil
}
