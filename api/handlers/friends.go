package handlers

import (
	"messenger/services"
	"time"

	"github.com/gin-gonic/gin"
)

// SendFriendRequest - заявка в друзья по username
func SendFriendRequest(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	request, err := friendService.SendFriendRequest(c.Request.Context(), userID, req.Username)
	if err != nil {
		respondError(c, "send_friend_request", started, err)
		return
	}
	respondOK(c, "send_friend_request", started, gin.H{"request": request})
}

// RespondFriendRequest - принять или отклонить заявку
func RespondFriendRequest(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Decision services.Decision `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	request, err := friendService.RespondToRequest(c.Request.Context(), requestID, userID, req.Decision)
	if err != nil {
		respondError(c, "respond_friend_request", started, err)
		return
	}
	respondOK(c, "respond_friend_request", started, gin.H{"request": request})
}

// DeleteFriend - удаление из друзей; повторное удаление не ошибка
func DeleteFriend(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	friendID, ok := pathID(c, "id")
	if !ok {
		return
	}

	removed, err := friendService.Unfriend(c.Request.Context(), userID, friendID)
	if err != nil {
		respondError(c, "unfriend", started, err)
		return
	}
	respondOK(c, "unfriend", started, gin.H{"removed": removed})
}

// GetFriends - обработчик для получения списка друзей
func GetFriends(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	friends, err := friendService.ListFriends(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "list_friends", started, err)
		return
	}
	respondOK(c, "list_friends", started, gin.H{"friends": friends})
}

// GetPendingRequests - обработчик для получения входящих заявок в друзья
func GetPendingRequests(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	requests, err := friendService.ListPendingIncoming(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "list_friend_requests", started, err)
		return
	}
	respondOK(c, "list_friend_requests", started, gin.H{"requests": requests})
}
