package services

import (
	"context"
	"errors"
	"messenger/apperrors"
	"messenger/config"
	"messenger/db"
	"messenger/models"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minSearchQueryLength = 2
	defaultSearchLimit   = 20
)

// Decision - ответ на заявку в друзья
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// FriendRequestView - заявка вместе с участниками
type FriendRequestView struct {
	models.FriendRequest
	Sender   models.UserBrief `json:"sender"`
	Receiver models.UserBrief `json:"receiver"`
}

// UserSearchResult - найденный пользователь с отметками относительно ищущего
type UserSearchResult struct {
	models.UserBrief
	IsFriend          bool `json:"is_friend"`
	HasPendingRequest bool `json:"has_pending_request"`
}

type FriendService struct {
	events EventPublisher
	users  *UserService
}

func NewFriendService(events EventPublisher) *FriendService {
	if events == nil {
		events = nopPublisher{}
	}
	return &FriendService{events: events, users: NewUserService()}
}

// txError пропускает бизнес-ошибки из транзакции как есть, остальное считает сбоем хранилища
func txError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return storeError(op, err)
}

func areFriends(tx *gorm.DB, a, b int64) (bool, error) {
	var count int64
	err := tx.Model(&models.Friend{}).Where("user_id = ? AND friend_id = ?", a, b).Count(&count).Error
	return count > 0, err
}

// AreFriends проверяет наличие ребра дружбы между пользователями
func (fs *FriendService) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	ok, err := areFriends(db.GetReadOnlyDB(ctx), a, b)
	if err != nil {
		return false, storeError("failed to check friendship", err)
	}
	return ok, nil
}

// FriendIDs возвращает id всех друзей пользователя
func (fs *FriendService) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := db.GetReadOnlyDB(ctx).Model(&models.Friend{}).Where("user_id = ?", userID).Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, storeError("failed to load friend ids", err)
	}
	return ids, nil
}

// loadBriefs загружает пользователей пачкой
func loadBriefs(ctx context.Context, ids []int64) (map[int64]models.UserBrief, error) {
	out := make(map[int64]models.UserBrief, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := db.GetReadOnlyDB(ctx).Where("id IN ?", uniqueIDs(ids)).Find(&users).Error; err != nil {
		return nil, storeError("failed to load users", err)
	}
	for _, u := range users {
		out[u.ID] = u.Brief()
	}
	return out, nil
}

func (fs *FriendService) requestView(ctx context.Context, req models.FriendRequest) (*FriendRequestView, error) {
	briefs, err := loadBriefs(ctx, []int64{req.SenderID, req.ReceiverID})
	if err != nil {
		return nil, err
	}
	return &FriendRequestView{
		FriendRequest: req,
		Sender:        briefs[req.SenderID],
		Receiver:      briefs[req.ReceiverID],
	}, nil
}

// SendFriendRequest создает заявку в друзья по username получателя
func (fs *FriendService) SendFriendRequest(ctx context.Context, senderID int64, receiverUsername string) (*FriendRequestView, error) {
	receiverUsername = strings.TrimSpace(receiverUsername)
	if receiverUsername == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	receiver, err := fs.users.FindUserByUsername(ctx, receiverUsername)
	if err != nil {
		return nil, err
	}
	if receiver.ID == senderID {
		return nil, apperrors.ErrInvalidTarget
	}

	request := models.FriendRequest{
		SenderID:   senderID,
		ReceiverID: receiver.ID,
		PendingKey: models.PendingPairKey(senderID, receiver.ID),
		Status:     models.FriendRequestPending,
	}
	err = db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		friends, err := areFriends(tx, senderID, receiver.ID)
		if err != nil {
			return err
		}
		if friends {
			return apperrors.ErrAlreadyFriends
		}
		var pending int64
		err = tx.Model(&models.FriendRequest{}).
			Where("pending_key = ? AND status = ?", *request.PendingKey, models.FriendRequestPending).
			Count(&pending).Error
		if err != nil {
			return err
		}
		if pending > 0 {
			return apperrors.ErrDuplicateRequest
		}
		if err := tx.Create(&request).Error; err != nil {
			// параллельная заявка успела занять pending_key
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.ErrDuplicateRequest
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, txError("failed to create friend request", err)
	}

	view, err := fs.requestView(ctx, request)
	if err != nil {
		return nil, err
	}
	fs.events.Notify(receiver.ID, EventFriendRequestReceived, view)
	return view, nil
}

// RespondToRequest принимает или отклоняет входящую заявку.
// Смена статуса - условный UPDATE по status = pending, поэтому из параллельных ответов выигрывает ровно один.
func (fs *FriendService) RespondToRequest(ctx context.Context, requestID, responderID int64, decision Decision) (*FriendRequestView, error) {
	var status models.FriendRequestStatus
	switch decision {
	case DecisionAccept:
		status = models.FriendRequestAccepted
	case DecisionReject:
		status = models.FriendRequestRejected
	default:
		return nil, apperrors.InvalidInput("decision must be accept or reject")
	}

	var request models.FriendRequest
	now := time.Now().UTC()
	err := db.GetWriteDB(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FriendRequest{}).
			Where("id = ? AND receiver_id = ? AND status = ?", requestID, responderID, models.FriendRequestPending).
			Updates(map[string]any{
				"status":       status,
				"responded_at": now,
				"pending_key":  nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			err := tx.Where("id = ? AND receiver_id = ?", requestID, responderID).First(&request).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrRequestNotFound
			}
			if err != nil {
				return err
			}
			return apperrors.ErrAlreadyProcessed
		}
		if err := tx.First(&request, requestID).Error; err != nil {
			return err
		}
		if status != models.FriendRequestAccepted {
			return nil
		}
		edges := []models.Friend{
			{UserID: request.SenderID, FriendID: request.ReceiverID, CreatedAt: now},
			{UserID: request.ReceiverID, FriendID: request.SenderID, CreatedAt: now},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
	})
	if err != nil {
		return nil, txError("failed to respond to friend request", err)
	}

	view, err := fs.requestView(ctx, request)
	if err != nil {
		return nil, err
	}
	event := EventFriendRequestRejected
	if status == models.FriendRequestAccepted {
		event = EventFriendRequestAccepted
	}
	fs.events.Notify(request.SenderID, event, view)
	return view, nil
}

// Unfriend удаляет оба ребра дружбы одним запросом. Повторный вызов не ошибка: removed = false.
func (fs *FriendService) Unfriend(ctx context.Context, userID, friendID int64) (bool, error) {
	if userID == friendID {
		return false, apperrors.ErrInvalidTarget
	}
	res := db.GetWriteDB(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", userID, friendID, friendID, userID).
		Delete(&models.Friend{})
	if res.Error != nil {
		return false, storeError("failed to delete friendship", res.Error)
	}
	removed := res.RowsAffected > 0
	if removed {
		fs.events.Notify(friendID, EventFriendRemoved, FriendRemovedPayload{UserID: userID})
	}
	return removed, nil
}

// ListFriends возвращает друзей пользователя
func (fs *FriendService) ListFriends(ctx context.Context, userID int64) ([]models.UserBrief, error) {
	var users []models.User
	err := db.GetReadOnlyDB(ctx).
		Joins("JOIN friends ON friends.friend_id = users.id").
		Where("friends.user_id = ?", userID).
		Order("users.username").
		Find(&users).Error
	if err != nil {
		return nil, storeError("failed to get friends", err)
	}
	out := make([]models.UserBrief, 0, len(users))
	for _, u := range users {
		out = append(out, u.Brief())
	}
	return out, nil
}

// ListPendingIncoming возвращает входящие заявки, ожидающие ответа
func (fs *FriendService) ListPendingIncoming(ctx context.Context, userID int64) ([]FriendRequestView, error) {
	var requests []models.FriendRequest
	err := db.GetReadOnlyDB(ctx).
		Where("receiver_id = ? AND status = ?", userID, models.FriendRequestPending).
		Order("created_at DESC, id DESC").
		Find(&requests).Error
	if err != nil {
		return nil, storeError("failed to get pending requests", err)
	}
	ids := make([]int64, 0, len(requests)+1)
	ids = append(ids, userID)
	for _, r := range requests {
		ids = append(ids, r.SenderID)
	}
	briefs, err := loadBriefs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]FriendRequestView, 0, len(requests))
	for _, r := range requests {
		out = append(out, FriendRequestView{
			FriendRequest: r,
			Sender:        briefs[r.SenderID],
			Receiver:      briefs[r.ReceiverID],
		})
	}
	return out, nil
}

func searchLimit(limit int) int {
	maxLimit := defaultSearchLimit
	if config.AppConfig != nil && config.AppConfig.Messaging.SearchLimit > 0 {
		maxLimit = config.AppConfig.Messaging.SearchLimit
	}
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}
	return limit
}

// likeEscaper экранирует спецсимволы LIKE; '!' одинаково работает как ESCAPE в postgres, mysql и sqlite
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SearchUsers ищет по подстроке в username, имени и фамилии
func (fs *FriendService) SearchUsers(ctx context.Context, userID int64, query string, limit int) ([]UserSearchResult, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchQueryLength {
		return nil, apperrors.ErrQueryTooShort
	}
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"

	var users []models.User
	err := db.GetReadOnlyDB(ctx).
		Where("id <> ?", userID).
		Where("LOWER(username) LIKE ? ESCAPE '!' OR LOWER(first_name) LIKE ? ESCAPE '!' OR LOWER(last_name) LIKE ? ESCAPE '!'",
			pattern, pattern, pattern).
		Order("username").
		Limit(searchLimit(limit)).
		Find(&users).Error
	if err != nil {
		return nil, storeError("failed to search users", err)
	}
	if len(users) == 0 {
		return []UserSearchResult{}, nil
	}

	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	var friendIDs []int64
	err = db.GetReadOnlyDB(ctx).Model(&models.Friend{}).
		Where("user_id = ? AND friend_id IN ?", userID, ids).
		Pluck("friend_id", &friendIDs).Error
	if err != nil {
		return nil, storeError("failed to load friend ids", err)
	}
	var pending []models.FriendRequest
	err = db.GetReadOnlyDB(ctx).
		Where("status = ?", models.FriendRequestPending).
		Where("(sender_id = ? AND receiver_id IN ?) OR (receiver_id = ? AND sender_id IN ?)", userID, ids, userID, ids).
		Find(&pending).Error
	if err != nil {
		return nil, storeError("failed to load pending requests", err)
	}

	isFriend := make(map[int64]bool, len(friendIDs))
	for _, id := range friendIDs {
		isFriend[id] = true
	}
	hasPending := make(map[int64]bool, len(pending))
	for _, r := range pending {
		if r.SenderID == userID {
			hasPending[r.ReceiverID] = true
		} else {
			hasPending[r.SenderID] = true
		}
	}

	out := make([]UserSearchResult, 0, len(users))
	for _, u := range users {
		out = append(out, UserSearchResult{
			UserBrief:         u.Brief(),
			IsFriend:          isFriend[u.ID],
			HasPendingRequest: hasPending[u.ID],
		})
	}
	return out, nil
}
