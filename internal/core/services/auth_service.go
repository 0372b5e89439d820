package services

import (
	"errors"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

type AuthService interface {
	GenerateToken(identity domain.Identity) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	// IdentityFromToken resolves a bearer token to an identity. Missing or
	// invalid tokens resolve to an anonymous guest.
	IdentityFromToken(tokenString string) domain.Identity
	GenerateAccessToken(eventID domain.EventID, subject string, ttl time.Duration) (string, error)
	VerifyAccessToken(tokenString string, eventID domain.EventID) domain.TokenTrust
}

// Claims identify a signed-in user.
type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Admin    bool          `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenClaims grant listening rights for a single event.
type AccessTokenClaims struct {
	EventID domain.EventID `json:"event_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

var _ ports.TokenVerifier = (*authService)(nil)

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(identity domain.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Admin:    identity.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.UserID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) IdentityFromToken(tokenString string) domain.Identity {
	if tokenString == "" {
		return domain.Identity{}
	}
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return domain.Identity{}
	}
	return domain.Identity{
		UserID:        claims.UserID,
		Username:      claims.Username,
		Admin:         claims.Admin,
		Authenticated: true,
	}
}

// GenerateAccessToken issues a token that lets its holder listen to eventID.
// A zero ttl falls back to the service default.
func (s *authService) GenerateAccessToken(eventID domain.EventID, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.accessTokenTTL
	}
	now := time.Now()
	claims := &AccessTokenClaims{
		EventID: eventID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyAccessToken returns Verified only for a correctly signed, unexpired
// token issued for eventID. Everything else is Unverified.
func (s *authService) VerifyAccessToken(tokenString string, eventID domain.EventID) domain.TokenTrust {
	if tokenString == "" {
		return domain.Unverified()
	}

	claims := &AccessTokenClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return domain.Unverified()
	}
	if claims.EventID == "" || claims.EventID != eventID {
		return domain.Unverified()
	}

	return domain.Verified(domain.AccessClaims{
		EventID: claims.EventID,
		Subject: claims.Subject,
	})
}

func (s *authService) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
