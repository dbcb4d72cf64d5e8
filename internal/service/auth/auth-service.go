package auth

import (
	"ChatRelay/entity"
	repository "ChatRelay/internal/database"
	"ChatRelay/internal/lib/sl"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrUnauthorized = errors.New("unauthorized")

// Repository is the server-side HTTP session store shared with the web application.
type Repository interface {
	LookupSession(ctx context.Context, sid string) (*entity.HttpSession, error)
}

// Service authenticates staff by the signed session cookie of the web application.
type Service struct {
	repository Repository
	cookieName string
	secret     string
	now        func() time.Time
	log        *slog.Logger
}

func NewAuthService(logger *slog.Logger, cookieName, secret string) *Service {
	if cookieName == "" {
		cookieName = "connect.sid"
	}
	return &Service{
		cookieName: cookieName,
		secret:     secret,
		now:        time.Now,
		log:        logger.With(sl.Module("auth-service")),
	}
}

func (s *Service) SetRepository(repository Repository) {
	s.repository = repository
}

// AuthenticateRequest resolves the staff session carried by the request cookie.
// Every failure is reported as ErrUnauthorized with the cause wrapped.
func (s *Service) AuthenticateRequest(r *http.Request) (*entity.StaffSession, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("%w: session cookie not found", ErrUnauthorized)
	}
	return s.AuthenticateCookie(r.Context(), cookie.Value)
}

func (s *Service) AuthenticateCookie(ctx context.Context, value string) (*entity.StaffSession, error) {
	if s.repository == nil {
		return nil, fmt.Errorf("%w: session store not configured", ErrUnauthorized)
	}

	sid, err := SessionID(value, s.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	session, err := s.repository.LookupSession(ctx, sid)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error("session lookup", sl.Secret("sid", sid), sl.Err(err))
		}
		return nil, fmt.Errorf("%w: session lookup: %v", ErrUnauthorized, err)
	}
	if !session.Expires.After(s.now()) {
		return nil, fmt.Errorf("%w: session expired", ErrUnauthorized)
	}

	userID, err := staffMarker(session.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return &entity.StaffSession{
		SID:     sid,
		UserID:  userID,
		Expires: session.Expires,
	}, nil
}

// SessionID extracts the raw session id from a cookie value in the
// "s:<sid>.<signature>" form. With a secret the signature must match.
func SessionID(value, secret string) (string, error) {
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}

	if !strings.HasPrefix(value, "s:") {
		if secret != "" {
			return "", errors.New("session cookie is not signed")
		}
		if value == "" {
			return "", errors.New("empty session cookie")
		}
		return value, nil
	}

	signed := strings.TrimPrefix(value, "s:")
	dot := strings.LastIndex(signed, ".")
	if dot <= 0 {
		return "", errors.New("malformed signed session cookie")
	}
	sid, signature := signed[:dot], signed[dot+1:]

	if secret != "" && !hmac.Equal([]byte(signature), []byte(sign(sid, secret))) {
		return "", errors.New("session cookie signature mismatch")
	}
	return sid, nil
}

// SignedCookie returns the cookie value the web application would issue for sid.
func SignedCookie(sid, secret string) string {
	return "s:" + sid + "." + sign(sid, secret)
}

func sign(value, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(value))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(mac.Sum(nil)), "=")
}

// staffMarker returns the authenticated user of a session payload: a non-empty
// userId or passport.user.
func staffMarker(data []byte) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("malformed session payload: %w", err)
	}

	if id := markerValue(payload["userId"]); id != "" {
		return id, nil
	}
	if passport, ok := payload["passport"].(map[string]interface{}); ok {
		if id := markerValue(passport["user"]); id != "" {
			return id, nil
		}
	}
	return "", errors.New("session is not authenticated")
}

func markerValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]interface{}:
		for _, key := range []string{"id", "_id", "email"} {
			if id := markerValue(val[key]); id != "" {
				return id
			}
		}
	}
	return ""
}
