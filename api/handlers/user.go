package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// UserSearch - поиск по подстроке username/имени/фамилии
func UserSearch(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	results, err := friendService.SearchUsers(c.Request.Context(), userID, c.Query("q"), int(limit))
	if err != nil {
		respondError(c, "search_users", started, err)
		return
	}
	respondOK(c, "search_users", started, gin.H{"users": results})
}

func UserGet(c *gin.Context) {
	started := time.Now()
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	user, err := userService.FindUserByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, "get_user", started, err)
		return
	}
	respondOK(c, "get_user", started, gin.H{"user": user.Brief()})
}

// Me - профиль текущего пользователя
func Me(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := userService.FindUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "get_me", started, err)
		return
	}
	respondOK(c, "get_me", started, gin.H{"user": user})
}
