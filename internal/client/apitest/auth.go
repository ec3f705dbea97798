package apitest

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type credentialsBody struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	City     *string `json:"city"`
	Region   *string `json:"region"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) tokensFor(a *account) (models.TokenResponse, error) {
	access, err := s.issueAccess(a.user.ID)
	if err != nil {
		return models.TokenResponse{}, err
	}
	user := a.user
	return models.TokenResponse{
		AccessToken:  access,
		RefreshToken: s.issueRefresh(a.user.ID),
		TokenType:    "bearer",
		User:         &user,
	}, nil
}

func (s *Server) signup(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		validationError(c, "body", err.Error())
		return
	}
	if body.Email == "" {
		validationError(c, "email", "field required")
		return
	}
	if len(body.Password) < 6 {
		validationError(c, "password", "ensure this value has at least 6 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[strings.ToLower(body.Email)]; taken {
		abort(c, http.StatusBadRequest, "Email already registered")
		return
	}

	a := s.createAccount(body.Email, body.Password, body.City, body.Region)
	resp, err := s.tokensFor(a)
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) login(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		validationError(c, "body", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(body.Email)]
	if !ok {
		abort(c, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	a := s.accounts[id]
	if bcrypt.CompareHashAndPassword(a.password, []byte(body.Password)) != nil {
		abort(c, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	resp, err := s.tokensFor(a)
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) refreshTokens(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil || body.RefreshToken == "" {
		validationError(c, "refresh_token", "field required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.consumeRefresh(body.RefreshToken)
	if !ok {
		abort(c, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	a, ok := s.accounts[userID]
	if !ok {
		abort(c, http.StatusUnauthorized, "Invalid token")
		return
	}

	resp, err := s.tokensFor(a)
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.User = nil
	c.JSON(http.StatusOK, resp)
}

func (s *Server) logout(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil {
		validationError(c, "refresh_token", "field required")
		return
	}

	s.mu.Lock()
	delete(s.refresh, body.RefreshToken)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.accounts[currentUser(c)].user)
}

func (s *Server) updateMe(c *gin.Context) {
	var upd models.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		validationError(c, "body", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[currentUser(c)]
	if upd.City != nil {
		a.user.City = upd.City
	}
	if upd.Region != nil {
		a.user.Region = upd.Region
	}
	c.JSON(http.StatusOK, a.user)
}
