package forge

import (
	"github.com/adamwoolhether/forge/auth"
)

// SignOutMessage is returned by [Service.SignOut] when there is no session
// to end on the server.
const SignOutMessage = "Logged out. It can take till 1 hour to logout in all your devices."

// LoginRequest is the body of [Login].
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupRequest is the body of [Signup].
type SignupRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Type      string `json:"type" validate:"required"`
}

// SocialLoginRequest is the body of [SocialLogin]. IdentityToken is the
// token issued by the identity provider.
type SocialLoginRequest struct {
	Type          string `json:"type" validate:"required"`
	SocialType    string `json:"socialType" validate:"required,oneof=apple gmail"`
	AuthType      string `json:"authType" validate:"required,oneof=login signup"`
	IdentityToken string `json:"identityToken" validate:"required"`
}

// ChangePasswordRequest is the body of [ChangePassword].
type ChangePasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,nefield=Password"`
}

// ForgotPasswordRequest is the body of [ForgotPassword].
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the body of [ResetPassword]. Code is the one-time
// code delivered by the forgot-password flow.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LoginResponse is returned by every call that opens a session.
type LoginResponse struct {
	AccessToken auth.Record  `json:"accessToken"`
	Data        auth.Profile `json:"data"`
}

// MessageResponse is returned by calls whose only result is a message.
type MessageResponse struct {
	Message string `json:"message"`
}
