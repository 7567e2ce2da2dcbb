package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	audienceOperator   = "operator"
	audienceTranscript = "transcript"
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Claims describes the operator token payload.
type Claims struct {
	GuildID string `json:"guild_id"`
	Admin   bool   `json:"admin"`
	jwt.RegisteredClaims
}

// TranscriptClaims describes a signed transcript viewer link.
type TranscriptClaims struct {
	ChannelID string `json:"channel_id"`
	URL       string `json:"url"`
	Digest    string `json:"digest"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs an operator token for userID.
func (tm *TokenManager) GenerateToken(userID, guildID string, admin bool) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		GuildID: guildID,
		Admin:   admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audienceOperator},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := tm.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates an operator token and returns its claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := tm.parse(tokenStr, claims, audienceOperator); err != nil {
		return nil, err
	}
	return claims, nil
}

// SignTranscriptLink returns a token authorising a redirect to url.
func (tm *TokenManager) SignTranscriptLink(channelID, url, digest string) (string, error) {
	now := tm.now()
	return tm.sign(&TranscriptClaims{
		ChannelID: channelID,
		URL:       url,
		Digest:    digest,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audienceTranscript},
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
}

// ParseTranscriptLink validates a transcript viewer token.
func (tm *TokenManager) ParseTranscriptLink(tokenStr string) (*TranscriptClaims, error) {
	claims := &TranscriptClaims{}
	if err := tm.parse(tokenStr, claims, audienceTranscript); err != nil {
		return nil, err
	}
	return claims, nil
}

func (tm *TokenManager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

func (tm *TokenManager) parse(tokenStr string, claims jwt.Claims, audience string) error {
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	},
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token claims")
	}
	return nil
}
