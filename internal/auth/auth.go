// Package auth verifies the HS256 access tokens issued by the identity
// provider and mints development tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbcare/telecall/internal/core/domain"
)

var ErrInvalidToken = errors.New("invalid token")

type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
}

// Claims follows the provider's layout: the user id is the subject.
type Claims struct {
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

type User struct {
	ID   domain.UserID
	Name string
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenString string) (User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return User{}, ErrInvalidToken
	}
	id, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return User{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return User{ID: id, Name: claims.UserMetadata.FullName}, nil
}

// Issue signs a token for user valid for ttl from now.
func Issue(secret string, user User, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		UserMetadata: UserMetadata{FullName: user.Name},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type ctxKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}
