package services

import (
	"fmt"
	"messenger/apperrors"
	"messenger/db"
	"messenger/models"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageRules(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	ds := NewDialogService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	_, err := ds.SendMessage(testCtx, alice.ID, bob.ID, "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotFriends)

	makeFriends(t, alice.ID, bob.ID)

	_, err = ds.SendMessage(testCtx, alice.ID, bob.ID, " \n\t ")
	assert.ErrorIs(t, err, apperrors.ErrEmptyContent)

	_, err = ds.SendMessage(testCtx, alice.ID, bob.ID, strings.Repeat("я", 5001))
	assert.ErrorIs(t, err, apperrors.ErrContentTooLong)

	msg, err := ds.SendMessage(testCtx, alice.ID, bob.ID, strings.Repeat("я", 5000))
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	msg, err = ds.SendMessage(testCtx, alice.ID, bob.ID, "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)

	received := events.byEvent(EventReceiveMessage)
	require.Len(t, received, 2)
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID}, received[1].UserIDs)
}

func TestEditMessage(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	ds := NewDialogService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	makeFriends(t, alice.ID, bob.ID)
	msg, err := ds.SendMessage(testCtx, alice.ID, bob.ID, "helo")
	require.NoError(t, err)

	_, err = ds.EditMessage(testCtx, 9999, alice.ID, "x")
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = ds.EditMessage(testCtx, msg.ID, bob.ID, "x")
	assert.ErrorIs(t, err, apperrors.ErrNotSender)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = ds.EditMessage(testCtx, msg.ID, alice.ID, "  ")
	assert.ErrorIs(t, err, apperrors.ErrEmptyContent)

	edited, err := ds.EditMessage(testCtx, msg.ID, alice.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	notified := events.byEvent(EventMessageEdited)
	require.Len(t, notified, 1)
	assert.Contains(t, notified[0].UserIDs, bob.ID)

	var stored models.Message
	require.NoError(t, db.ORM.First(&stored, msg.ID).Error)
	assert.Equal(t, "hello", stored.Content)
	assert.True(t, stored.IsEdited)

	_, err = ds.DeleteMessage(testCtx, msg.ID, alice.ID)
	require.NoError(t, err)
	_, err = ds.EditMessage(testCtx, msg.ID, alice.ID, "again")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyDeleted)
}

func TestDeleteMessageIsSoftAndNotRepeatable(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	ds := NewDialogService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	makeFriends(t, alice.ID, bob.ID)
	keep, err := ds.SendMessage(testCtx, alice.ID, bob.ID, "keep")
	require.NoError(t, err)
	gone, err := ds.SendMessage(testCtx, alice.ID, bob.ID, "secret")
	require.NoError(t, err)

	_, err = ds.DeleteMessage(testCtx, gone.ID, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotSender)

	deleted, err := ds.DeleteMessage(testCtx, gone.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, models.DeletedPlaceholder, deleted.Content)

	var stored models.Message
	require.NoError(t, db.ORM.First(&stored, gone.ID).Error)
	assert.Equal(t, models.DeletedPlaceholder, stored.Content)
	assert.NotNil(t, stored.DeletedAt)

	_, err = ds.DeleteMessage(testCtx, gone.ID, alice.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyDeleted)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	history, err := ds.GetHistory(testCtx, bob.ID, alice.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, keep.ID, history[0].ID)

	require.Len(t, events.byEvent(EventMessageDeleted), 1)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	ds := NewDialogService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	makeFriends(t, alice.ID, bob.ID)

	var sent []int64
	for i := 0; i < 3; i++ {
		msg, err := ds.SendMessage(testCtx, alice.ID, bob.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		sent = append(sent, msg.ID)
	}
	// свое исходящее bob не должен отметить прочитанным
	own, err := ds.SendMessage(testCtx, bob.ID, alice.ID, "reply")
	require.NoError(t, err)

	ids, err := ds.MarkRead(testCtx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, sent, ids)

	again, err := ds.MarkRead(testCtx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, again)

	read := events.byEvent(EventMessagesRead)
	require.Len(t, read, 1)
	assert.Equal(t, []int64{alice.ID}, read[0].UserIDs)
	payload := read[0].Payload.(MessagesReadPayload)
	assert.Equal(t, bob.ID, payload.ReaderID)
	assert.Equal(t, sent, payload.MessageIDs)

	var unread int64
	require.NoError(t, db.ORM.Model(&models.Message{}).Where("is_read = ?", false).Count(&unread).Error)
	assert.Equal(t, int64(1), unread)
	var stored models.Message
	require.NoError(t, db.ORM.First(&stored, own.ID).Error)
	assert.False(t, stored.IsRead)
}

func TestMarkMessageReadNotifiesSenderOnce(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	ds := NewDialogService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	carol := createUser(t, "carol")
	makeFriends(t, alice.ID, bob.ID)

	first, err := ds.SendMessage(testCtx, alice.ID, bob.ID, "first")
	require.NoError(t, err)
	second, err := ds.SendMessage(testCtx, alice.ID, bob.ID, "second")
	require.NoError(t, err)

	// читать может только получатель
	_, err = ds.MarkMessageRead(testCtx, alice.ID, first.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	_, err = ds.MarkMessageRead(testCtx, carol.ID, first.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	_, err = ds.MarkMessageRead(testCtx, bob.ID, 999999)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	msg, err := ds.MarkMessageRead(testCtx, bob.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
	require.NotNil(t, msg.ReadAt)

	again, err := ds.MarkMessageRead(testCtx, bob.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, again.IsRead)

	read := events.byEvent(EventMessageRead)
	require.Len(t, read, 1)
	assert.Equal(t, []int64{alice.ID}, read[0].UserIDs)
	payload := read[0].Payload.(MessageReadPayload)
	assert.Equal(t, first.ID, payload.MessageID)
	assert.Equal(t, bob.ID, payload.ReaderID)

	var stored models.Message
	require.NoError(t, db.ORM.First(&stored, second.ID).Error)
	assert.False(t, stored.IsRead)

	// остаток пачкой: уже прочитанное не входит
	ids, err := ds.MarkRead(testCtx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{second.ID}, ids)
}

func TestConversationScenario(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	ds := NewDialogService(nil)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	req, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)
	_, err = fs.RespondToRequest(testCtx, req.ID, bob.ID, DecisionAccept)
	require.NoError(t, err)
	_, err = ds.SendMessage(testCtx, alice.ID, bob.ID, "hi")
	require.NoError(t, err)

	bobView, err := ds.ListConversations(testCtx, bob.ID)
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Equal(t, int64(1), bobView[0].UnreadCount)

	_, err = ds.MarkRead(testCtx, bob.ID, alice.ID)
	require.NoError(t, err)

	conversations, err := ds.ListConversations(testCtx, alice.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, bob.ID, conversations[0].User.ID)
	assert.Equal(t, "bob", conversations[0].User.Username)
	assert.Zero(t, conversations[0].UnreadCount)
	assert.Equal(t, "hi", conversations[0].LastMessage.Content)

	bobView, err = ds.ListConversations(testCtx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, bobView[0].UnreadCount)
}

func TestListConversationsAggregates(t *testing.T) {
	setupTestDB(t)
	ds := NewDialogService(nil)
	me := createUser(t, "me")
	older := createUser(t, "older")
	newer := createUser(t, "newer")
	silent := createUser(t, "silent")
	makeFriends(t, me.ID, older.ID)
	makeFriends(t, me.ID, newer.ID)
	makeFriends(t, me.ID, silent.ID)

	_, err := ds.SendMessage(testCtx, older.ID, me.ID, "1")
	require.NoError(t, err)
	_, err = ds.SendMessage(testCtx, older.ID, me.ID, "2")
	require.NoError(t, err)
	_, err = ds.SendMessage(testCtx, newer.ID, me.ID, "3")
	require.NoError(t, err)
	last, err := ds.SendMessage(testCtx, me.ID, newer.ID, "4")
	require.NoError(t, err)
	// удаленное сообщение не становится последним и не считается непрочитанным
	removed, err := ds.SendMessage(testCtx, newer.ID, me.ID, "5")
	require.NoError(t, err)
	_, err = ds.DeleteMessage(testCtx, removed.ID, newer.ID)
	require.NoError(t, err)

	conversations, err := ds.ListConversations(testCtx, me.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 2)

	assert.Equal(t, newer.ID, conversations[0].User.ID)
	assert.Equal(t, last.ID, conversations[0].LastMessage.ID)
	assert.Equal(t, int64(1), conversations[0].UnreadCount)

	assert.Equal(t, older.ID, conversations[1].User.ID)
	assert.Equal(t, "2", conversations[1].LastMessage.Content)
	assert.Equal(t, int64(2), conversations[1].UnreadCount)

	empty, err := ds.ListConversations(testCtx, silent.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryPagination(t *testing.T) {
	setupTestDB(t)
	ds := NewDialogService(nil)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	carol := createUser(t, "carol")
	makeFriends(t, alice.ID, bob.ID)

	base := time.Now().UTC().Add(-time.Hour)
	var all []int64
	for i := 0; i < 25; i++ {
		sender, receiver := alice.ID, bob.ID
		if i%3 == 0 {
			sender, receiver = bob.ID, alice.ID
		}
		msg := models.Message{SenderID: sender, ReceiverID: receiver, Content: fmt.Sprintf("m%d", i), CreatedAt: base.Add(time.Duration(i/2) * time.Second)}
		require.NoError(t, db.ORM.Create(&msg).Error)
		all = append(all, msg.ID)
	}
	_, err := ds.DeleteMessage(testCtx, all[10], alice.ID)
	require.NoError(t, err)
	expected := append(append([]int64{}, all[:10]...), all[11:]...)

	_, err = ds.GetHistory(testCtx, alice.ID, carol.ID, 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrNotFriends)

	var collected []int64
	var before int64
	for page := 0; page < 10; page++ {
		messages, err := ds.GetHistory(testCtx, alice.ID, bob.ID, before, 10)
		require.NoError(t, err)
		if len(messages) == 0 {
			break
		}
		ids := make([]int64, 0, len(messages))
		for i, m := range messages {
			if before > 0 {
				assert.Less(t, m.ID, before)
			}
			if i > 0 {
				assert.Greater(t, m.ID, messages[i-1].ID)
			}
			ids = append(ids, m.ID)
		}
		collected = append(ids, collected...)
		before = messages[0].ID
	}
	assert.Equal(t, expected, collected)

	full, err := ds.GetHistory(testCtx, bob.ID, alice.ID, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, full, 24)
}

func TestHistoryLimitBounds(t *testing.T) {
	assert.Equal(t, 50, historyLimit(0))
	assert.Equal(t, 50, historyLimit(-3))
	assert.Equal(t, 7, historyLimit(7))
	assert.Equal(t, 100, historyLimit(1000))
}
