package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const sessionCookie = "__session"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUserIDRequired = errors.New("user id is required")
	ErrLoginDisabled  = errors.New("login is disabled: auth password is not configured")
)

// Session описывает активную сессию пользователя. Токен действителен, пока сессия с тем же TokenID лежит в Store.
type Session struct {
	UserID    string    `json:"user_id"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store interface {
	Save(ctx context.Context, session Session) error
	Get(ctx context.Context, userID string) (Session, bool, error)
	Delete(ctx context.Context, userID string) error
}

// Identity описывает пользователя, от имени которого пришёл запрос.
type Identity struct {
	UserID string
	Email  string
}

// Options настраивают выдачу токенов.
// Password — общий секрет доверенного издателя (фронтенда или админки), который сам
// проверил пользователя и выпускает токен на его user_id. Без пароля вход выключен.
type Options struct {
	Password string
	Secret   []byte
	Issuer   string
	TTL      time.Duration
}

type Service struct {
	password string
	secret   []byte
	issuer   string
	ttl      time.Duration
	store    Store
	now      func() time.Time
}

func NewService(opts Options, store Store) *Service {
	return &Service{
		password: opts.Password,
		secret:   opts.Secret,
		issuer:   opts.Issuer,
		ttl:      opts.TTL,
		store:    store,
		now:      time.Now,
	}
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Login проверяет пароль издателя, создаёт сессию и выпускает подписанный токен.
// Новая сессия вытесняет предыдущую, старый токен перестаёт работать.
func (s *Service) Login(ctx context.Context, userID, email, password string) (Session, string, error) {
	if userID == "" {
		return Session{}, "", ErrUserIDRequired
	}
	if !s.LoginEnabled() {
		return Session{}, "", ErrLoginDisabled
	}
	if subtle.ConstantTimeCompare([]byte(s.password), []byte(password)) != 1 {
		return Session{}, "", ErrUnauthorized
	}

	now := s.now()
	session := Session{
		UserID:  userID,
		TokenID: uuid.NewString(),
	}

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  userID,
			ID:       session.TokenID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email: email,
	}
	// TTL == 0 означает, что сессии вечные и не истекают по времени.
	if s.ttl > 0 {
		session.ExpiresAt = now.Add(s.ttl)
		c.ExpiresAt = jwt.NewNumericDate(session.ExpiresAt)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign token: %w", err)
	}
	if err := s.store.Save(ctx, session); err != nil {
		return Session{}, "", fmt.Errorf("save session: %w", err)
	}
	return session, token, nil
}

// LoginEnabled сообщает, настроен ли пароль издателя.
func (s *Service) LoginEnabled() bool {
	return s.password != ""
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

// ResolveUserID достаёт токен из заголовка Authorization или cookie и проверяет его.
func (s *Service) ResolveUserID(r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, false
	}
	identity, err := s.Authenticate(r.Context(), token)
	if err != nil {
		return Identity{}, false
	}
	return identity, true
}

// Authenticate проверяет подпись, издателя и срок токена, а также что его сессия ещё жива.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}
	if !c.VerifyIssuer(s.issuer, s.issuer != "") || c.Subject == "" {
		return Identity{}, ErrUnauthorized
	}

	session, ok, err := s.store.Get(ctx, c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if !ok || session.TokenID != c.ID {
		return Identity{}, ErrUnauthorized
	}

	if s.ttl > 0 && (session.ExpiresAt.IsZero() || s.now().After(session.ExpiresAt)) {
		if err := s.store.Delete(ctx, c.Subject); err != nil {
			return Identity{}, fmt.Errorf("delete expired session: %w", err)
		}
		return Identity{}, ErrUnauthorized
	}

	return Identity{UserID: c.Subject, Email: c.Email}, nil
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
