package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/models"
)

const tokenTTL = 24 * time.Hour

var errBadCredentials = apperr.Unauthorized("Credenciales inválidas")

// UserService registers operators and issues the bearer tokens that guard
// mutating routes.
type UserService struct {
	db     core.UserStore
	secret []byte
	now    func() time.Time
}

func NewUserService(db core.UserStore, jwtSecret string) *UserService {
	return &UserService{db: db, secret: []byte(jwtSecret), now: time.Now}
}

func (s *UserService) Signup(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperr.Validation("Email inválido")
	}
	if len(password) < 8 {
		return "", apperr.Validation("La contraseña debe tener al menos 8 caracteres")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Internal("Error al registrar el usuario", err)
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.db.CreateUser(ctx, u); err != nil {
		return "", err
	}
	return s.IssueToken(u.ID)
}

func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.db.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return "", errBadCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", errBadCredentials
	}
	return s.IssueToken(u.ID)
}

// IssueToken signs an HS256 token carrying the user id.
func (s *UserService) IssueToken(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", apperr.Internal("JWT_SECRET no configurado", nil)
	}
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     s.now().Unix(),
		"exp":     s.now().Add(tokenTTL).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperr.Internal("Error al firmar el token", err)
	}
	return tok, nil
}

// ParseToken validates a bearer token and returns its user id.
func ParseToken(secret []byte, token string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", apperr.New(apperr.KindUnauthorized, "Token inválido", err)
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", apperr.New(apperr.KindUnauthorized, "Token inválido", errors.New("missing user_id claim"))
	}
	return userID, nil
}
