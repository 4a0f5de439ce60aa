package handlers

import (
	"messenger/services"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username  string  `json:"username" binding:"required"`
	Password  string  `json:"password" binding:"required"`
	Email     *string `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
}

func Register(c *gin.Context) {
	started := time.Now()
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	user, err := userService.Register(c.Request.Context(), services.RegisterInput{
		Username:  req.Username,
		Password:  req.Password,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respondError(c, "register", started, err)
		return
	}
	respondOK(c, "register", started, gin.H{"user": user.Brief()})
}

func Login(c *gin.Context) {
	started := time.Now()
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	token, user, err := userService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, "login", started, err)
		return
	}
	respondOK(c, "login", started, gin.H{"token": token, "user": user.Brief()})
}

// Logout отзывает токен из заголовка Authorization
func Logout(c *gin.Context) {
	started := time.Now()
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token is empty", "code": "INVALID_INPUT"})
		return
	}
	if err := userService.Logout(c.Request.Context(), token); err != nil {
		respondError(c, "logout", started, err)
		return
	}
	respondOK(c, "logout", started, gin.H{"status": "ok"})
}
