package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

type messageRequest struct {
	Content string `json:"content"`
}

// SendMessageHandler - отправка сообщения другу
func SendMessageHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	toUserID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	msg, err := dialogService.SendMessage(c.Request.Context(), userID, toUserID, req.Content)
	if err != nil {
		respondError(c, "send_message", started, err)
		return
	}
	respondOK(c, "send_message", started, gin.H{"message": msg})
}

// ListDialogHandler - страница переписки, ?before_id=&limit=
func ListDialogHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	otherUserID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	beforeID, ok := queryInt(c, "before_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	messages, err := dialogService.GetHistory(c.Request.Context(), userID, otherUserID, beforeID, int(limit))
	if err != nil {
		respondError(c, "get_history", started, err)
		return
	}
	respondOK(c, "get_history", started, gin.H{"messages": messages})
}

// MarkReadHandler - отметить прочитанными входящие от собеседника
func MarkReadHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	otherUserID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	ids, err := dialogService.MarkRead(c.Request.Context(), userID, otherUserID)
	if err != nil {
		respondError(c, "mark_read", started, err)
		return
	}
	respondOK(c, "mark_read", started, gin.H{"message_ids": ids})
}

// MarkMessageReadHandler - отметить прочитанным одно входящее сообщение
func MarkMessageReadHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := dialogService.MarkMessageRead(c.Request.Context(), userID, messageID)
	if err != nil {
		respondError(c, "mark_message_read", started, err)
		return
	}
	respondOK(c, "mark_message_read", started, gin.H{"message": msg})
}

func ListConversationsHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversations, err := dialogService.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "list_conversations", started, err)
		return
	}
	respondOK(c, "list_conversations", started, gin.H{"conversations": conversations})
}

func EditMessageHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	msg, err := dialogService.EditMessage(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		respondError(c, "edit_message", started, err)
		return
	}
	respondOK(c, "edit_message", started, gin.H{"message": msg})
}

func DeleteMessageHandler(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := dialogService.DeleteMessage(c.Request.Context(), messageID, userID)
	if err != nil {
		respondError(c, "delete_message", started, err)
		return
	}
	respondOK(c, "delete_message", started, gin.H{"message": msg})
}
