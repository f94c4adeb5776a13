package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starglow-chat/backend/internal/config"
	"github.com/starglow-chat/backend/pkg/utils"
)

// CookieName carries the signed session token.
const CookieName = "starglow_session"

type ctxKey struct{}

// Service issues and validates cookie-session tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService builds the auth service from configuration.
func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		secret: []byte(cfg.Secret),
		ttl:    time.Duration(cfg.TokenTTL) * time.Hour,
	}
}

// IssueToken signs a session token for the user.
func (s *Service) IssueToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken returns the user id a token was issued for.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		sub, _ := claims["sub"].(string)
		if sub == "" {
			return "", fmt.Errorf("token missing subject")
		}
		return sub, nil
	}

	return "", fmt.Errorf("invalid token")
}

// SetSessionCookie attaches the token to the response.
func (s *Service) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware rejects requests without a valid session cookie and puts
// the caller identity on the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err != nil || cookie.Value == "" {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userID, err := s.ValidateToken(cookie.Value)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID stores the caller identity on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID extracts the caller identity set by Middleware.
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(ctxKey{}).(string)
	return userID, ok && userID != ""
}
