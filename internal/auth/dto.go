package auth

import (
	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/core/common/validation"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (r *RegisterRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("email", r.Email).Required().Email()
	v.Field("name", r.Name).MaxLength(100)
	v.Field("password", r.Password).Required().MinLength(8).MaxLength(72)
	return v.Validate()
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("email", r.Email).Required().Email()
	v.Field("password", r.Password).Required()
	return v.Validate()
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *RefreshTokenRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("refresh_token", r.RefreshToken).Required()
	return v.Validate()
}

type UserResponse struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}
