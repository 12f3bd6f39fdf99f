package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sundayezeilo/linkshare/internal/errx"
	"github.com/sundayezeilo/linkshare/internal/httpx"
)

const DefaultAdminHeader = "X-Admin-Secret"

// GateConfig configures a Gate. An empty AdminSecret disables the admin path.
type GateConfig struct {
	Tokens      TokenVerifier
	AdminSecret string
	AdminHeader string
	Logger      *slog.Logger
}

// Gate authenticates requests and enforces which credential paths a route accepts.
type Gate struct {
	tokens      TokenVerifier
	adminDigest [sha256.Size]byte
	adminOn     bool
	adminHeader string
	logger      *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.AdminHeader == "" {
		cfg.AdminHeader = DefaultAdminHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gate{
		tokens:      cfg.Tokens,
		adminHeader: http.CanonicalHeaderKey(cfg.AdminHeader),
		logger:      cfg.Logger,
	}
	if cfg.AdminSecret != "" {
		g.adminOn = true
		g.adminDigest = sha256.Sum256([]byte(cfg.AdminSecret))
	}
	return g
}

// AdminHeader is the header carrying the admin secret.
func (g *Gate) AdminHeader() string { return g.adminHeader }

// Authenticate derives the principal for r using only the paths in accepted.
func (g *Gate) Authenticate(r *http.Request, accepted Method) (Principal, error) {
	const op = "auth.gate.Authenticate"

	authz := r.Header.Get("Authorization")
	secret := r.Header.Get(g.adminHeader)

	switch {
	case authz != "" && secret != "":
		return Principal{}, errx.E(op, errx.Unauthorized, errors.New("more than one credential presented"))

	case authz != "":
		if !accepted.accepts(Session) || g.tokens == nil {
			return Principal{}, errx.E(op, errx.Unauthorized, errors.New("session tokens are not accepted here"))
		}
		raw, ok := bearerToken(authz)
		if !ok {
			return Principal{}, errx.E(op, errx.Unauthorized, errors.New("authorization header is not a bearer token"))
		}
		p, err := g.tokens.Verify(raw)
		if err != nil {
			return Principal{}, errx.Wrap(op, err)
		}
		return p, nil

	case secret != "":
		if !accepted.accepts(Admin) || !g.adminOn {
			return Principal{}, errx.E(op, errx.Unauthorized, errors.New("admin secret is not accepted here"))
		}
		if !g.adminMatches(secret) {
			return Principal{}, errx.E(op, errx.Unauthorized, errors.New("admin secret mismatch"))
		}
		return Principal{Role: RoleAdmin}, nil

	default:
		return Principal{}, errx.E(op, errx.Unauthorized, errors.New("no credentials presented"))
	}
}

// adminMatches compares digests so neither content nor length leaks through timing.
func (g *Gate) adminMatches(presented string) bool {
	d := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(d[:], g.adminDigest[:]) == 1
}

// Require rejects requests without an accepted credential and stores the principal in
// the request context for handlers.
func (g *Gate) Require(accepted Method) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.Authenticate(r, accepted)
			if err != nil {
				g.logger.WarnContext(r.Context(), "authentication failed",
					"request_id", httpx.GetRequestID(r.Context()),
					"path", r.URL.Path,
					"error", err,
				)
				httpx.WriteErrx(w, err, "")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(h string) (string, bool) {
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
