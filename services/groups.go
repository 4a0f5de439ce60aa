package services

import (
	"context"
	"errors"
	"messenger/apperrors"
	"messenger/db"
	"messenger/models"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

const (
	maxGroupNameRunes        = 100
	maxGroupDescriptionRunes = 500
)

type GroupService struct {
	events EventPublisher
}

func NewGroupService(events EventPublisher) *GroupService {
	if events == nil {
		events = nopPublisher{}
	}
	return &GroupService{events: events}
}

func normalizeGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxGroupNameRunes {
		return "", apperrors.ErrInvalidName
	}
	return name, nil
}

// normalizeDescription - пустое описание хранится как NULL
func normalizeDescription(description *string) (*string, error) {
	if description == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*description)
	if d == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(d) > maxGroupDescriptionRunes {
		return nil, apperrors.InvalidInput("group description is too long")
	}
	return &d, nil
}

func loadGroup(tx *gorm.DB, groupID int64) (*models.Group, error) {
	var group models.Group
	if err := tx.First(&group, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// membership возвращает членство пользователя в группе или nil
func membership(tx *gorm.DB, groupID, userID int64) (*models.GroupMember, error) {
	var members []models.GroupMember
	err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Limit(1).Find(&members).Error
	if err != nil || len(members) == 0 {
		return nil, err
	}
	return &members[0], nil
}

func groupMemberIDs(tx *gorm.DB, groupID int64) ([]int64, error) {
	var ids []int64
	err := tx.Model(&models.GroupMember{}).Where("group_id = ?", groupID).Order("id").Pluck("user_id", &ids).Error
	return ids, err
}

// requireMember загружает группу и проверяет, что userID в ней состоит
func requireMember(tx *gorm.DB, groupID, userID int64) (*models.Group, error) {
	group, err := loadGroup(tx, groupID)
	if err != nil {
		return nil, err
	}
	m, err := membership(tx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.ErrNotMember
	}
	return group, nil
}

// requireAdmin загружает группу и проверяет права администратора
func requireAdmin(tx *gorm.DB, groupID, userID int64) (*models.Group, error) {
	group, err := loadGroup(tx, groupID)
	if err != nil {
		return nil, err
	}
	m, err := membership(tx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsAdmin {
		return nil, apperrors.ErrNotAdmin
	}
	return group, nil
}

type lastGroupMessageRow struct {
	GroupID       int64
	LastMessageID int64
}

// groupViews собирает представления групп пачкой: участники, профили, последнее сообщение
func groupViews(ctx context.Context, conn *gorm.DB, groups []models.Group) ([]models.GroupView, error) {
	if len(groups) == 0 {
		return []models.GroupView{}, nil
	}
	groupIDs := make([]int64, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	var members []models.GroupMember
	if err := conn.Where("group_id IN ?", groupIDs).Order("id").Find(&members).Error; err != nil {
		return nil, storeError("failed to load group members", err)
	}
	userIDs := make([]int64, 0, len(members))
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}
	briefs, err := loadBriefs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	var lastRows []lastGroupMessageRow
	err = conn.Model(&models.GroupMessage{}).
		Select("group_id, MAX(id) AS last_message_id").
		Where("group_id IN ? AND is_deleted = ?", groupIDs, false).
		Group("group_id").
		Scan(&lastRows).Error
	if err != nil {
		return nil, storeError("failed to aggregate group messages", err)
	}
	lastIDs := make([]int64, 0, len(lastRows))
	for _, r := range lastRows {
		lastIDs = append(lastIDs, r.LastMessageID)
	}
	lastByGroup := make(map[int64]*models.GroupMessage, len(lastIDs))
	if len(lastIDs) > 0 {
		var lastMessages []models.GroupMessage
		if err := conn.Where("id IN ?", lastIDs).Find(&lastMessages).Error; err != nil {
			return nil, storeError("failed to load last group messages", err)
		}
		for i := range lastMessages {
			lastByGroup[lastMessages[i].GroupID] = &lastMessages[i]
		}
	}

	membersByGroup := make(map[int64][]models.GroupMemberView, len(groups))
	owners := make(map[int64]int64, len(groups))
	for _, g := range groups {
		owners[g.ID] = g.OwnerID
	}
	for _, m := range members {
		membersByGroup[m.GroupID] = append(membersByGroup[m.GroupID], models.GroupMemberView{
			UserBrief: briefs[m.UserID],
			IsAdmin:   m.IsAdmin,
			IsOwner:   owners[m.GroupID] == m.UserID,
			JoinedAt:  m.JoinedAt,
		})
	}

	views := make([]models.GroupView, 0, len(groups))
	for _, g := range groups {
		groupMembers := membersByGroup[g.ID]
		if groupMembers == nil {
			groupMembers = []models.GroupMemberView{}
		}
		views = append(views, models.GroupView{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			OwnerID:     g.OwnerID,
			Members:     groupMembers,
			LastMessage: lastByGroup[g.ID],
			CreatedAt:   g.CreatedAt,
		})
	}
	return views, nil
}

func groupView(ctx context.Context, conn *gorm.DB, group models.Group) (*models.GroupView, error) {
	views, err := groupViews(ctx, conn, []models.Group{group})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func viewMemberIDs(view *models.GroupView) []int64 {
	ids := make([]int64, 0, len(view.Members))
	for _, m := range view.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// CreateGroup создает группу из друзей владельца. Если хоть один участник не друг,
// ничего не сохраняется.
func (gs *GroupService) CreateGroup(ctx context.Context, ownerID int64, name string, description *string, memberIDs []int64) (*models.GroupView, error) {
	name, err := normalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	description, err = normalizeDescription(description)
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, apperrors.ErrNoMembers
	}
	others := make([]int64, 0, len(memberIDs))
	for _, id := range uniqueIDs(memberIDs) {
		if id != ownerID {
			others = append(others, id)
		}
	}

	group := models.Group{Name: name, Description: description, OwnerID: ownerID}
	err = db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		if len(others) > 0 {
			var friends int64
			err := tx.Model(&models.Friend{}).
				Where("user_id = ? AND friend_id IN ?", ownerID, others).
				Count(&friends).Error
			if err != nil {
				return err
			}
			if friends != int64(len(others)) {
				return apperrors.ErrNotFriends
			}
		}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		members := make([]models.GroupMember, 0, len(others)+1)
		members = append(members, models.GroupMember{GroupID: group.ID, UserID: ownerID, IsAdmin: true, JoinedAt: now})
		for _, id := range others {
			members = append(members, models.GroupMember{GroupID: group.ID, UserID: id, JoinedAt: now})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, txError("failed to create group", err)
	}

	view, err := groupView(ctx, db.GetWriteDB(ctx), group)
	if err != nil {
		return nil, err
	}
	gs.events.NotifyMany(viewMemberIDs(view), EventGroupCreated, view)
	return view, nil
}

// AddMember - администратор добавляет в группу своего друга
func (gs *GroupService) AddMember(ctx context.Context, groupID, requesterID, userID int64) (*models.GroupView, error) {
	var group *models.Group
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		group, err = requireAdmin(tx, groupID, requesterID)
		if err != nil {
			return err
		}
		friends, err := areFriends(tx, requesterID, userID)
		if err != nil {
			return err
		}
		if !friends {
			return apperrors.ErrNotFriends
		}
		existing, err := membership(tx, groupID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.ErrAlreadyMember
		}
		err = tx.Create(&models.GroupMember{GroupID: groupID, UserID: userID, JoinedAt: time.Now().UTC()}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrAlreadyMember
		}
		return err
	})
	if err != nil {
		return nil, txError("failed to add group member", err)
	}

	view, err := groupView(ctx, db.GetWriteDB(ctx), *group)
	if err != nil {
		return nil, err
	}
	gs.events.NotifyMany(viewMemberIDs(view), EventGroupMemberAdded, GroupMemberPayload{
		GroupID: groupID,
		UserID:  userID,
		Group:   view,
	})
	return view, nil
}

// RemoveMember исключает участника (админом) или выход из группы (сам участник).
// Владельца удалить нельзя никому.
func (gs *GroupService) RemoveMember(ctx context.Context, groupID, requesterID, memberID int64) error {
	var remaining []int64
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if memberID == group.OwnerID {
			return apperrors.ErrCannotRemoveOwner
		}
		if requesterID != memberID {
			requester, err := membership(tx, groupID, requesterID)
			if err != nil {
				return err
			}
			if requester == nil || !requester.IsAdmin {
				return apperrors.ErrNotAdmin
			}
		}
		res := tx.Where("group_id = ? AND user_id = ?", groupID, memberID).Delete(&models.GroupMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrMemberNotFound
		}
		remaining, err = groupMemberIDs(tx, groupID)
		return err
	})
	if err != nil {
		return txError("failed to remove group member", err)
	}

	gs.events.NotifyMany(append(remaining, memberID), EventGroupMemberRemoved, GroupMemberPayload{
		GroupID: groupID,
		UserID:  memberID,
	})
	return nil
}

// UpdateGroup - частичное обновление: меняются только переданные поля
func (gs *GroupService) UpdateGroup(ctx context.Context, groupID, requesterID int64, name, description *string) (*models.GroupView, error) {
	updates := map[string]any{}
	if name != nil {
		n, err := normalizeGroupName(*name)
		if err != nil {
			return nil, err
		}
		updates["name"] = n
	}
	if description != nil {
		d, err := normalizeDescription(description)
		if err != nil {
			return nil, err
		}
		updates["description"] = d
	}

	var group *models.Group
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		group, err = requireAdmin(tx, groupID, requesterID)
		if err != nil || len(updates) == 0 {
			return err
		}
		if err := tx.Model(group).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(group, groupID).Error
	})
	if err != nil {
		return nil, txError("failed to update group", err)
	}

	view, err := groupView(ctx, db.GetWriteDB(ctx), *group)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		gs.events.NotifyMany(viewMemberIDs(view), EventGroupUpdated, view)
	}
	return view, nil
}

// DeleteGroup - только владелец; удаляет группу вместе с участниками и сообщениями
func (gs *GroupService) DeleteGroup(ctx context.Context, groupID, requesterID int64) error {
	var members []int64
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.OwnerID != requesterID {
			return apperrors.ErrNotOwner
		}
		if members, err = groupMemberIDs(tx, groupID); err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, groupID).Error
	})
	if err != nil {
		return txError("failed to delete group", err)
	}

	gs.events.NotifyMany(members, EventGroupDeleted, GroupDeletedPayload{GroupID: groupID})
	return nil
}

// SendGroupMessage - рассылка идет по составу группы на момент отправки
func (gs *GroupService) SendGroupMessage(ctx context.Context, groupID, senderID int64, content string) (*models.GroupMessage, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}

	msg := models.GroupMessage{GroupID: groupID, SenderID: senderID, Content: content}
	var members []int64
	err = db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireMember(tx, groupID, senderID); err != nil {
			return err
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		members, err = groupMemberIDs(tx, groupID)
		return err
	})
	if err != nil {
		return nil, txError("failed to send group message", err)
	}

	gs.events.NotifyMany(members, EventReceiveGroupMessage, msg)
	return &msg, nil
}

func loadOwnGroupMessage(tx *gorm.DB, messageID, userID int64) (*models.GroupMessage, error) {
	var msg models.GroupMessage
	if err := tx.First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperrors.ErrNotSender
	}
	if msg.IsDeleted {
		return nil, apperrors.ErrAlreadyDeleted
	}
	return &msg, nil
}

func (gs *GroupService) EditGroupMessage(ctx context.Context, messageID, editorID int64, content string) (*models.GroupMessage, error) {
	var msg *models.GroupMessage
	var members []int64
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = loadOwnGroupMessage(tx, messageID, editorID)
		if err != nil {
			return err
		}
		text, err := normalizeContent(content)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&models.GroupMessage{}).
			Where("id = ? AND is_deleted = ?", messageID, false).
			Updates(map[string]any{"content": text, "is_edited": true, "edited_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrAlreadyDeleted
		}
		msg.Content, msg.IsEdited, msg.EditedAt = text, true, &now
		members, err = groupMemberIDs(tx, msg.GroupID)
		return err
	})
	if err != nil {
		return nil, txError("failed to edit group message", err)
	}

	gs.events.NotifyMany(members, EventGroupMessageEdited, msg)
	return msg, nil
}

func (gs *GroupService) DeleteGroupMessage(ctx context.Context, messageID, requesterID int64) (*models.GroupMessage, error) {
	var msg *models.GroupMessage
	var members []int64
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = loadOwnGroupMessage(tx, messageID, requesterID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&models.GroupMessage{}).
			Where("id = ? AND is_deleted = ?", messageID, false).
			Updates(map[string]any{"content": models.DeletedPlaceholder, "is_deleted": true, "deleted_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrAlreadyDeleted
		}
		msg.Content, msg.IsDeleted, msg.DeletedAt = models.DeletedPlaceholder, true, &now
		members, err = groupMemberIDs(tx, msg.GroupID)
		return err
	})
	if err != nil {
		return nil, txError("failed to delete group message", err)
	}

	gs.events.NotifyMany(members, EventGroupMessageDeleted, GroupMessageDeletedPayload{
		GroupID:   msg.GroupID,
		MessageID: msg.ID,
	})
	return msg, nil
}

// ListGroupMessages - та же постраничная выдача, что и у личной переписки
func (gs *GroupService) ListGroupMessages(ctx context.Context, groupID, requesterID, beforeID int64, limit int) ([]models.GroupMessage, error) {
	conn := db.GetReadOnlyDB(ctx)
	if _, err := requireMember(conn, groupID, requesterID); err != nil {
		return nil, txError("failed to check group membership", err)
	}

	query := conn.Where("group_id = ? AND is_deleted = ?", groupID, false)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	var messages []models.GroupMessage
	err := query.Order("created_at DESC, id DESC").Limit(historyLimit(limit)).Find(&messages).Error
	if err != nil {
		return nil, storeError("failed to load group messages", err)
	}
	reverseSlice(messages)
	return messages, nil
}

// ListGroups возвращает группы пользователя, сначала с самой свежей активностью
func (gs *GroupService) ListGroups(ctx context.Context, userID int64) ([]models.GroupView, error) {
	conn := db.GetReadOnlyDB(ctx)
	var groups []models.Group
	err := conn.
		Where("id IN (?)", conn.Model(&models.GroupMember{}).Select("group_id").Where("user_id = ?", userID)).
		Find(&groups).Error
	if err != nil {
		return nil, storeError("failed to list groups", err)
	}
	views, err := groupViews(ctx, conn, groups)
	if err != nil {
		return nil, err
	}
	activity := func(v models.GroupView) time.Time {
		if v.LastMessage != nil {
			return v.LastMessage.CreatedAt
		}
		return v.CreatedAt
	}
	sort.SliceStable(views, func(i, j int) bool {
		ai, aj := activity(views[i]), activity(views[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return views[i].ID > views[j].ID
	})
	return views, nil
}

// GetGroup - группа с участниками, доступна только участникам
func (gs *GroupService) GetGroup(ctx context.Context, groupID, requesterID int64) (*models.GroupView, error) {
	conn := db.GetReadOnlyDB(ctx)
	group, err := requireMember(conn, groupID, requesterID)
	if err != nil {
		return nil, txError("failed to load group", err)
	}
	return groupView(ctx, conn, *group)
}
