package account

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/svc/account"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Email       string `json:"email,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

func (m *Module) login(ctx handler.Context, req loginRequest) handler.Response {
	res, err := m.svc.Login(ctx, req.Email, req.Password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		return handler.JSON(loginResponse{Message: "Invalid email or password."},
			handler.WithJSONStatus(http.StatusUnauthorized))
	}
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(loginResponse{
		Success:     true,
		Email:       res.Email,
		RedirectURL: res.RedirectURL,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (m *Module) changePassword(ctx Context, req changePasswordRequest) handler.Response {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "Current and new password are required."))
	}
	if err := m.svc.ChangePassword(ctx, ctx.Email(), req.CurrentPassword, req.NewPassword); err != nil {
		return handler.Error(err)
	}
	return handler.JSON(messageResponse{Message: "Password changed successfully."})
}
