package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/diagnovet/internal/core/apperr"
)

type Authenticator interface {
	Signup(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
}

type AuthHandler struct {
	users Authenticator
	rs    *Responder
}

func NewAuthHandler(users Authenticator, rs *Responder) *AuthHandler {
	return &AuthHandler{users: users, rs: rs}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenView struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	token, err := h.users.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Created(w, tokenView{Token: token}, "Usuario registrado correctamente")
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	token, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.OK(w, tokenView{Token: token}, "")
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var req credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		return req, apperr.New(apperr.KindValidation, "JSON inválido", err)
	}
	if req.Email == "" || req.Password == "" {
		return req, apperr.Validation("Email y contraseña son obligatorios")
	}
	return req, nil
}
