package gateway

import (
	"errors"
	"fmt"
	"strings"

	"exam-runner/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks bearer tokens against the backend's HMAC signing key.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("gateway: jwt secret is empty")
	}
	return &Verifier{
		key:    []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}, nil
}

// Viewer verifies the signature (and expiry, when present) and returns the
// viewer the token was issued to.
func (v *Verifier) Viewer(token string) (domain.Viewer, error) {
	token = trimBearer(token)
	if token == "" {
		return domain.Viewer{}, domain.ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return domain.Viewer{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return viewerFromClaims(token, claims)
}

// ViewerFromToken picks the viewer variant from the caller's own token
// without checking its signature. It is for the CLI, where the token comes
// from local config and the backend verifies every request it is sent with.
func ViewerFromToken(token string) (domain.Viewer, error) {
	token = trimBearer(token)
	if token == "" {
		return domain.Viewer{}, domain.ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.Viewer{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return viewerFromClaims(token, claims)
}

// Faculty tokens carry role=faculty or is_faculty=true; failing that, faculty
// log in by email while students use a roll number.
func viewerFromClaims(token string, claims jwt.MapClaims) (domain.Viewer, error) {
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Viewer{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	viewer := domain.Student(subject)
	if role, ok := claims["role"].(string); ok {
		if strings.EqualFold(role, "faculty") || strings.EqualFold(role, "teacher") {
			viewer = domain.Teacher(subject)
		}
	} else if faculty, ok := claims["is_faculty"].(bool); ok {
		if faculty {
			viewer = domain.Teacher(subject)
		}
	} else if strings.Contains(subject, "@") {
		viewer = domain.Teacher(subject)
	}
	viewer.Token = token
	return viewer, nil
}

func trimBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}
