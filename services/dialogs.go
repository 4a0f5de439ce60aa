package services

import (
	"context"
	"errors"
	"messenger/apperrors"
	"messenger/config"
	"messenger/db"
	"messenger/models"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultHistoryLimit    = 50
	defaultMaxHistoryLimit = 100
	defaultMaxContentRunes = 5000
)

func maxContentRunes() int {
	if config.AppConfig != nil && config.AppConfig.Messaging.MaxContentLength > 0 {
		return config.AppConfig.Messaging.MaxContentLength
	}
	return defaultMaxContentRunes
}

// normalizeContent обрезает пробелы и проверяет длину текста
func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxContentRunes() {
		return "", apperrors.ErrContentTooLong
	}
	return content, nil
}

// historyLimit приводит limit к диапазону [1, max], 0 - значение по умолчанию
func historyLimit(limit int) int {
	def, maxLimit := defaultHistoryLimit, defaultMaxHistoryLimit
	if config.AppConfig != nil {
		if config.AppConfig.Messaging.HistoryLimit > 0 {
			def = config.AppConfig.Messaging.HistoryLimit
		}
		if config.AppConfig.Messaging.MaxHistoryLimit > 0 {
			maxLimit = config.AppConfig.Messaging.MaxHistoryLimit
		}
	}
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

type DialogService struct {
	events EventPublisher
}

func NewDialogService(events EventPublisher) *DialogService {
	if events == nil {
		events = nopPublisher{}
	}
	return &DialogService{events: events}
}

// SendMessage сохраняет сообщение другу и рассылает его получателю и всем сессиям отправителя
func (ds *DialogService) SendMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	err = db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		friends, err := areFriends(tx, senderID, receiverID)
		if err != nil {
			return err
		}
		if !friends {
			return apperrors.ErrNotFriends
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return nil, txError("failed to send message", err)
	}

	ds.events.NotifyMany([]int64{receiverID, senderID}, EventReceiveMessage, msg)
	return &msg, nil
}

// loadOwnMessage загружает сообщение и проверяет, что его автор - userID и оно не удалено
func loadOwnMessage(tx *gorm.DB, messageID, userID int64) (*models.Message, error) {
	var msg models.Message
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

func (ds *DialogService) EditMessage(ctx context.Context, messageID, editorID int64, content string) (*models.Message, error) {
	var msg *models.Message
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = loadOwnMessage(tx, messageID, editorID)
		if err != nil {
			return err
		}
		text, err := normalizeContent(content)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&models.Message{}).
			Where("id = ? AND is_deleted = ?", messageID, false).
			Updates(map[string]any{"content": text, "is_edited": true, "edited_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrAlreadyDeleted
		}
		msg.Content, msg.IsEdited, msg.EditedAt = text, true, &now
		return nil
	})
	if err != nil {
		return nil, txError("failed to edit message", err)
	}

	ds.events.NotifyMany([]int64{msg.ReceiverID, msg.SenderID}, EventMessageEdited, msg)
	return msg, nil
}

// DeleteMessage - мягкое удаление: текст заменяется заглушкой, строка остается
func (ds *DialogService) DeleteMessage(ctx context.Context, messageID, requesterID int64) (*models.Message, error) {
	var msg *models.Message
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = loadOwnMessage(tx, messageID, requesterID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&models.Message{}).
			Where("id = ? AND is_deleted = ?", messageID, false).
			Updates(map[string]any{"content": models.DeletedPlaceholder, "is_deleted": true, "deleted_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrAlreadyDeleted
		}
		msg.Content, msg.IsDeleted, msg.DeletedAt = models.DeletedPlaceholder, true, &now
		return nil
	})
	if err != nil {
		return nil, txError("failed to delete message", err)
	}

	ds.events.NotifyMany([]int64{msg.ReceiverID, msg.SenderID}, EventMessageDeleted, MessageDeletedPayload{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
	})
	return msg, nil
}

// MarkRead отмечает прочитанными входящие от otherUserID и возвращает id только что прочитанных.
// Строки блокируются на время транзакции; пришедшие во время операции сообщения не затрагиваются.
func (ds *DialogService) MarkRead(ctx context.Context, readerID, otherUserID int64) ([]int64, error) {
	ids := []int64{}
	now := time.Now().UTC()
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Message{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("sender_id = ? AND receiver_id = ? AND is_read = ?", otherUserID, readerID, false).
			Order("id").
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		return tx.Model(&models.Message{}).
			Where("id IN ? AND is_read = ?", ids, false).
			Updates(map[string]any{"is_read": true, "read_at": now}).Error
	})
	if err != nil {
		return nil, txError("failed to mark messages as read", err)
	}

	if len(ids) > 0 {
		ds.events.Notify(otherUserID, EventMessagesRead, MessagesReadPayload{
			ReaderID:   readerID,
			MessageIDs: ids,
			ReadAt:     now,
		})
	}
	return ids, nil
}

// MarkMessageRead отмечает прочитанным одно входящее сообщение. Отправитель получает
// MessageRead только при первом прочтении; чужие сообщения для читателя не существуют.
func (ds *DialogService) MarkMessageRead(ctx context.Context, readerID, messageID int64) (*models.Message, error) {
	var msg models.Message
	marked := false
	now := time.Now().UTC()
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&msg, messageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if msg.ReceiverID != readerID {
			return apperrors.ErrMessageNotFound
		}
		res := tx.Model(&models.Message{}).
			Where("id = ? AND is_read = ?", messageID, false).
			Updates(map[string]any{"is_read": true, "read_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			marked = true
			msg.IsRead, msg.ReadAt = true, &now
		}
		return nil
	})
	if err != nil {
		return nil, txError("failed to mark message as read", err)
	}

	if marked {
		ds.events.Notify(msg.SenderID, EventMessageRead, MessageReadPayload{
			MessageID: msg.ID,
			ReaderID:  readerID,
			ReadAt:    now,
		})
	}
	return &msg, nil
}

type conversationRow struct {
	CounterpartID int64
	LastMessageID int64
	UnreadCount   int64
}

// ListConversations строит список диалогов одним агрегирующим запросом
// плюс по одной пачечной загрузке последних сообщений и собеседников.
func (ds *DialogService) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	var rows []conversationRow
	err := db.GetReadOnlyDB(ctx).Model(&models.Message{}).
		Select(
			"CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart_id, "+
				"MAX(id) AS last_message_id, "+
				"COUNT(CASE WHEN receiver_id = ? AND is_read = ? THEN 1 END) AS unread_count",
			userID, userID, false,
		).
		Where("(sender_id = ? OR receiver_id = ?) AND is_deleted = ?", userID, userID, false).
		Group("counterpart_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError("failed to aggregate conversations", err)
	}
	if len(rows) == 0 {
		return []models.Conversation{}, nil
	}

	lastIDs := make([]int64, 0, len(rows))
	userIDs := make([]int64, 0, len(rows))
	for _, r := range rows {
		lastIDs = append(lastIDs, r.LastMessageID)
		userIDs = append(userIDs, r.CounterpartID)
	}
	var lastMessages []models.Message
	if err := db.GetReadOnlyDB(ctx).Where("id IN ?", lastIDs).Find(&lastMessages).Error; err != nil {
		return nil, storeError("failed to load last messages", err)
	}
	byID := make(map[int64]models.Message, len(lastMessages))
	for _, m := range lastMessages {
		byID[m.ID] = m
	}
	briefs, err := loadBriefs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		last, ok := byID[r.LastMessageID]
		if !ok {
			continue
		}
		out = append(out, models.Conversation{
			User:        briefs[r.CounterpartID],
			LastMessage: &last,
			UnreadCount: r.UnreadCount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

// GetHistory - страница переписки с другом. beforeID > 0 отдает только сообщения с id < beforeID.
// Выборка идет от новых к старым, в ответе порядок хронологический.
func (ds *DialogService) GetHistory(ctx context.Context, userID, otherUserID, beforeID int64, limit int) ([]models.Message, error) {
	friends, err := areFriends(db.GetReadOnlyDB(ctx), userID, otherUserID)
	if err != nil {
		return nil, storeError("failed to check friendship", err)
	}
	if !friends {
		return nil, apperrors.ErrNotFriends
	}

	query := db.GetReadOnlyDB(ctx).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND is_deleted = ?",
			userID, otherUserID, otherUserID, userID, false)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	var messages []models.Message
	err = query.Order("created_at DESC, id DESC").Limit(historyLimit(limit)).Find(&messages).Error
	if err != nil {
		return nil, storeError("failed to load history", err)
	}
	reverseSlice(messages)
	return messages, nil
}

func reverseSlice[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
