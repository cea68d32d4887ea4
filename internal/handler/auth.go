package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"uniattend/internal/account"
	"uniattend/internal/apperr"
	"uniattend/internal/auth"
)

type userResponse struct {
	ID                     string    `json:"id"`
	RegNo                  string    `json:"regNo"`
	FirstName              string    `json:"firstname"`
	Surname                string    `json:"surname"`
	Role                   auth.Role `json:"role"`
	DeptID                 string    `json:"deptId,omitempty"`
	Level                  string    `json:"level,omitempty"`
	Option                 string    `json:"option,omitempty"`
	RequiresPasswordChange bool      `json:"requiresPasswordChange"`
	Message                string    `json:"message,omitempty"`
}

func newUserResponse(a account.Account) userResponse {
	return userResponse{
		ID:                     a.ID,
		RegNo:                  a.RegNo,
		FirstName:              a.FirstName,
		Surname:                a.Surname,
		Role:                   a.Role,
		DeptID:                 a.DeptID,
		Level:                  a.Level,
		Option:                 a.Option,
		RequiresPasswordChange: !a.PasswordChanged,
	}
}

// issue sets the session cookie for acc.
func (a *api) issue(c *gin.Context, acc account.Account) bool {
	tok, err := auth.Issue(acc.ID, acc.Role, a.Config.JWTIssuer, a.Config.JWTSigningKey, a.Config.TokenTTL)
	if err != nil {
		log.Printf("[ERROR] issue token for %s: %v", acc.RegNo, err)
		fail(c, apperr.Internal("Could not start session."))
		return false
	}
	auth.SetCookie(c, tok, a.Config.CookieSecure)
	return true
}

func (a *api) signup(c *gin.Context) {
	var req account.SignupInput
	if !bind(c, &req) {
		return
	}
	acc, err := a.Accounts.Signup(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	if !a.issue(c, acc) {
		return
	}
	resp := newUserResponse(acc)
	resp.RequiresPasswordChange = true
	resp.Message = "Registration successful. You must change your password now."
	c.JSON(http.StatusCreated, resp)
}

func (a *api) login(c *gin.Context) {
	var req struct {
		RegNo    string `json:"regNo"`
		Password string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}
	acc, err := a.Accounts.Login(c.Request.Context(), req.RegNo, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	if !a.issue(c, acc) {
		return
	}
	c.JSON(http.StatusOK, newUserResponse(acc))
}

func (a *api) logout(c *gin.Context) {
	auth.ClearCookie(c, a.Config.CookieSecure)
	c.JSON(http.StatusOK, gin.H{"message": "User logged out successfully"})
}

func (a *api) changePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if !bind(c, &req) {
		return
	}
	if err := a.Accounts.ChangePassword(c.Request.Context(), caller(c).ID, req.OldPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully."})
}

func (a *api) me(c *gin.Context) {
	c.JSON(http.StatusOK, caller(c))
}
