package handlers

import (
	"log"
	"messenger/api/middleware"
	"messenger/apperrors"
	"messenger/services"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	userService     = services.NewUserService()
	friendService   = services.NewFriendService(nil)
	dialogService   = services.NewDialogService(nil)
	groupService    = services.NewGroupService(nil)
	presenceService = services.NewPresenceService(services.GlobalSessionRegistry, nil, nil)
)

// Init подключает доставку событий. Без вызова сервисы работают, но ничего не рассылают.
func Init(events services.EventPublisher, presence *services.PresenceService) {
	friendService = services.NewFriendService(events)
	dialogService = services.NewDialogService(events)
	groupService = services.NewGroupService(events)
	presenceService = presence
}

// Users - справочник пользователей для middleware аутентификации
func Users() *services.UserService {
	return userService
}

// respondError отдает ошибку в формате {"error", "code"}; сбои хранилища уже залогированы сервисом
func respondError(c *gin.Context, operation string, started time.Time, err error) {
	middleware.RecordChatOperation(operation, started, err)
	status := apperrors.HTTPStatus(err)
	if status == http.StatusServiceUnavailable {
		log.Printf("ERROR: %s failed: %v", operation, err)
	}
	c.JSON(status, gin.H{"error": apperrors.PublicMessage(err), "code": apperrors.PublicCode(err)})
}

func respondOK(c *gin.Context, operation string, started time.Time, body any) {
	middleware.RecordChatOperation(operation, started, nil)
	c.JSON(http.StatusOK, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": "INVALID_INPUT"})
}

// currentUserID - id пользователя, положенный AuthMiddleware
func currentUserID(c *gin.Context) (int64, bool) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "UNAUTHENTICATED"})
		return 0, false
	}
	return userID, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt - необязательный числовой параметр запроса
func queryInt(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return v, true
}
