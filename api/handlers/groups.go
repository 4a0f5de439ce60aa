package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

type createGroupRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	MemberIDs   []int64 `json:"member_ids"`
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func CreateGroup(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	group, err := groupService.CreateGroup(c.Request.Context(), userID, req.Name, req.Description, req.MemberIDs)
	if err != nil {
		respondError(c, "create_group", started, err)
		return
	}
	respondOK(c, "create_group", started, gin.H{"group": group})
}

func ListGroups(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := groupService.ListGroups(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "list_groups", started, err)
		return
	}
	respondOK(c, "list_groups", started, gin.H{"groups": groups})
}

func GetGroup(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	group, err := groupService.GetGroup(c.Request.Context(), groupID, userID)
	if err != nil {
		respondError(c, "get_group", started, err)
		return
	}
	respondOK(c, "get_group", started, gin.H{"group": group})
}

func UpdateGroup(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	group, err := groupService.UpdateGroup(c.Request.Context(), groupID, userID, req.Name, req.Description)
	if err != nil {
		respondError(c, "update_group", started, err)
		return
	}
	respondOK(c, "update_group", started, gin.H{"group": group})
}

func DeleteGroup(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := groupService.DeleteGroup(c.Request.Context(), groupID, userID); err != nil {
		respondError(c, "delete_group", started, err)
		return
	}
	respondOK(c, "delete_group", started, gin.H{"status": "deleted"})
}

func AddGroupMember(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	group, err := groupService.AddMember(c.Request.Context(), groupID, userID, req.UserID)
	if err != nil {
		respondError(c, "add_group_member", started, err)
		return
	}
	respondOK(c, "add_group_member", started, gin.H{"group": group})
}

// RemoveGroupMember - исключение участника или выход из группы (user_id = себе)
func RemoveGroupMember(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	if err := groupService.RemoveMember(c.Request.Context(), groupID, userID, memberID); err != nil {
		respondError(c, "remove_group_member", started, err)
		return
	}
	respondOK(c, "remove_group_member", started, gin.H{"status": "removed"})
}

func SendGroupMessage(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	msg, err := groupService.SendGroupMessage(c.Request.Context(), groupID, userID, req.Content)
	if err != nil {
		respondError(c, "send_group_message", started, err)
		return
	}
	respondOK(c, "send_group_message", started, gin.H{"message": msg})
}

func ListGroupMessages(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := pathID(c, "id")
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

	messages, err := groupService.ListGroupMessages(c.Request.Context(), groupID, userID, beforeID, int(limit))
	if err != nil {
		respondError(c, "list_group_messages", started, err)
		return
	}
	respondOK(c, "list_group_messages", started, gin.H{"messages": messages})
}

func EditGroupMessage(c *gin.Context) {
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

	msg, err := groupService.EditGroupMessage(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		respondError(c, "edit_group_message", started, err)
		return
	}
	respondOK(c, "edit_group_message", started, gin.H{"message": msg})
}

func DeleteGroupMessage(c *gin.Context) {
	started := time.Now()
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := groupService.DeleteGroupMessage(c.Request.Context(), messageID, userID)
	if err != nil {
		respondError(c, "delete_group_message", started, err)
		return
	}
	respondOK(c, "delete_group_message", started, gin.H{"message": msg})
}
