package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/pastpaper/internal/model"
)

const defaultTokenTTL = 8 * time.Hour

var errUnauthorized = errors.New("unauthorized")

// Claims identify a student. The subject is the student id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Auth issues and verifies HS256 student tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

// NewAuth returns an Auth signing with secret. A zero ttl selects eight hours.
func NewAuth(secret string, ttl time.Duration) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Auth{secret: []byte(secret), ttl: ttl}, nil
}

// IssueToken mints a token for the student.
func (a *Auth) IssueToken(studentID, name string) (string, error) {
	if studentID == "" {
		return "", errors.New("student id is required")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   studentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies a token and returns the student it names.
func (a *Auth) Parse(token string) (*model.Student, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", errUnauthorized)
	}
	return &model.Student{ID: claims.Subject, Name: claims.Name}, nil
}

// bearerToken reads the Authorization header.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// queryToken accepts the bearer token as a token query parameter. Browsers
// cannot set headers on EventSource or plain links, so only the event stream
// and the results page are routed through it.
func queryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := r.URL.Query().Get("token"); tok != "" && r.Header.Get("Authorization") == "" {
			r = r.Clone(r.Context())
			r.Header.Set("Authorization", "Bearer "+tok)
		}
		next.ServeHTTP(w, r)
	})
}

// RedactToken masks a token query parameter in r.RequestURI, which is what
// access logs print. Routing and queryToken read r.URL, which is untouched.
func RedactToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Has("token") {
			q.Set("token", "REDACTED")
			u := *r.URL
			u.RawQuery = q.Encode()
			r = r.WithContext(r.Context())
			r.RequestURI = u.RequestURI()
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeError(w, r, fmt.Errorf("%w: missing bearer token", errUnauthorized))
			return
		}
		student, err := h.auth.Parse(token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithStudent(r.Context(), student)))
	})
}

// requireAdmin checks HTTP basic auth against the configured bcrypt hash.
// Admin routes are closed when no hash is configured.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || h.config.AdminPasswordHash == "" || !h.checkAdmin(user, pass) {
			if ok {
				slog.Warn("failed admin login", "user", user, "remote", r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="pastpaper admin"`)
			h.writeError(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) checkAdmin(user, pass string) bool {
	want := h.config.AdminUser
	if want == "" {
		want = "admin"
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(want)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(h.config.AdminPasswordHash), []byte(pass)) == nil
	return userOK && passOK
}

// HashPassword returns a bcrypt hash suitable for the admin password setting.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
