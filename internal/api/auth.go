package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-supportchat/internal/config"
	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"
	tokenQueryKey        = "token"

	emailClaim       = "email"
	displayNameClaim = "displayName"
	expClaim         = "exp"
)

type contextKey string

const adminKey contextKey = "admin"

var errNoToken = errors.New("no token in request")

func WithAdmin(ctx context.Context, admin *types.AdminIdentity) context.Context {
	return context.WithValue(ctx, adminKey, admin)
}

// Admin returns the identity stored by the auth middleware.
func Admin(ctx context.Context) (*types.AdminIdentity, bool) {
	admin, ok := ctx.Value(adminKey).(*types.AdminIdentity)
	return admin, ok && admin != nil
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *GoChatApp) createJwtForSession(admin types.AdminIdentity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		emailClaim:       admin.Email,
		displayNameClaim: admin.DisplayName,
		expClaim:         time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *GoChatApp) verifyToken(tokenString string) (*types.AdminIdentity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	email, ok := claims[emailClaim].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("invalid email claim")
	}
	displayName, _ := claims[displayNameClaim].(string)

	return &types.AdminIdentity{Email: email, DisplayName: displayName}, nil
}

// tokenFromRequest looks for a session token in the cookie, the
// Authorization header and, for websocket upgrades, the query string.
func tokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), nil
	}

	if t := r.URL.Query().Get(tokenQueryKey); t != "" {
		return t, nil
	}

	return "", errNoToken
}

func (s *GoChatApp) adminFromRequest(r *http.Request) (*types.AdminIdentity, error) {
	tokenString, err := tokenFromRequest(r)
	if err != nil {
		return nil, err
	}

	return s.verifyToken(tokenString)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SeedAdmin creates the configured administrator account if it does not
// exist yet. An existing account is left untouched.
func SeedAdmin(ctx context.Context, db database.RoomStore, cfg config.AdminConfig) (bool, error) {
	_, err := db.GetAdminByEmail(ctx, cfg.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return false, fmt.Errorf("get admin: %w", err)
	}

	pwdHash, err := hashPassword(cfg.Password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	_, err = db.CreateAdmin(ctx, database.CreateAdminParams{
		Email:        cfg.Email,
		PasswordHash: pwdHash,
		DisplayName:  cfg.DisplayName,
	})
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	return true, nil
}
