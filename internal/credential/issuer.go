// Package credential mints and validates the bearer credentials issued when
// an authorization session is redeemed, plus the short-lived SSO tickets used
// by the server-to-server login flow.
package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mirpass/internal/platform/middleware"
	dErrors "mirpass/pkg/domain-errors"
)

const ssoTicketTTL = 5 * time.Minute

// Credential is an issued bearer token plus its metadata, shaped for the
// OAuth token response.
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Claims are the JWT claims carried by every token this service signs.
type Claims struct {
	Username string `json:"username,omitempty"`
	Kind     string `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens with a symmetric key (HS256).
type Issuer struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	nowTime    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithNowTime sets the clock function (primarily for testing).
func WithNowTime(now func() time.Time) Option {
	return func(i *Issuer) {
		i.nowTime = now
	}
}

// New constructs an Issuer. issuer should be the service's external base URL.
func New(signingKey, issuer string, tokenTTL time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
		nowTime:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Mint issues a bearer credential for userID on behalf of clientAppID. The
// audience claim carries the client application so resource servers can bind
// tokens to the app they were issued for.
func (i *Issuer) Mint(userID, clientAppID string) (*Credential, error) {
	token, err := i.sign(userID, clientAppID, "access", i.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access token")
	}
	return &Credential{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.tokenTTL.Seconds()),
	}, nil
}

// MintSSOTicket issues the one-shot ticket handed to a client application
// when an SSO login session is confirmed. Tickets are short-lived; the client
// backend exchanges them promptly via /sso/verify.
func (i *Issuer) MintSSOTicket(userID, clientAppID string) (string, error) {
	ticket, err := i.sign(userID, clientAppID, "sso_ticket", ssoTicketTTL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign sso ticket")
	}
	return ticket, nil
}

func (i *Issuer) sign(userID, clientAppID, kind string, ttl time.Duration) (string, error) {
	now := i.nowTime()
	claims := Claims{
		Username: userID,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientAppID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
}

// ValidateToken parses and verifies a bearer token, implementing
// middleware.TokenValidator.
func (i *Issuer) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return nil, err
	}
	clientID := ""
	if len(claims.Audience) > 0 {
		clientID = claims.Audience[0]
	}
	return &middleware.TokenClaims{
		UserID:   claims.Subject,
		ClientID: clientID,
	}, nil
}

// VerifySSOTicket checks an SSO ticket and returns the user and client app it
// was issued for. Access tokens are rejected here: a leaked bearer token must
// not double as a login ticket.
func (i *Issuer) VerifySSOTicket(ticket string) (userID, clientAppID string, err error) {
	claims, err := i.parse(ticket)
	if err != nil {
		return "", "", err
	}
	if claims.Kind != "sso_ticket" {
		return "", "", dErrors.New(dErrors.CodeUnauthorized, "not an sso ticket")
	}
	clientID := ""
	if len(claims.Audience) > 0 {
		clientID = claims.Audience[0]
	}
	return claims.Subject, clientID, nil
}

func (i *Issuer) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return i.signingKey, nil
	}, jwt.WithTimeFunc(i.nowTime))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
