package services

import (
	"errors"
	"messenger/apperrors"
	"messenger/db"
	"messenger/models"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSendFriendRequestValidation(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	fs := NewFriendService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	_, err := fs.SendFriendRequest(testCtx, alice.ID, "   ")
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	_, err = fs.SendFriendRequest(testCtx, alice.ID, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	_, err = fs.SendFriendRequest(testCtx, alice.ID, "alice")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTarget)

	req, err := fs.SendFriendRequest(testCtx, alice.ID, " bob ")
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestPending, req.Status)
	assert.Equal(t, bob.ID, req.Receiver.ID)
	assert.Equal(t, "alice", req.Sender.Username)

	received := events.byEvent(EventFriendRequestReceived)
	require.Len(t, received, 1)
	assert.Equal(t, []int64{bob.ID}, received[0].UserIDs)
}

func TestDuplicatePendingRequestIsConflict(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	alice := createUser(t, "alice")
	createUser(t, "bob")

	_, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)

	_, err = fs.SendFriendRequest(testCtx, alice.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	// встречная заявка - та же неупорядоченная пара
	bob, err := fs.users.FindUserByUsername(testCtx, "bob")
	require.NoError(t, err)
	_, err = fs.SendFriendRequest(testCtx, bob.ID, "alice")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
}

func TestPendingKeyIsEnforcedByStore(t *testing.T) {
	setupTestDB(t)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	first := models.FriendRequest{SenderID: alice.ID, ReceiverID: bob.ID, PendingKey: models.PendingPairKey(alice.ID, bob.ID), Status: models.FriendRequestPending}
	require.NoError(t, db.ORM.Create(&first).Error)

	second := models.FriendRequest{SenderID: bob.ID, ReceiverID: alice.ID, PendingKey: models.PendingPairKey(bob.ID, alice.ID), Status: models.FriendRequestPending}
	err := db.ORM.Create(&second).Error
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)
}

func TestAcceptCreatesBothEdgesAndClearsPending(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	fs := NewFriendService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	req, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)

	resp, err := fs.RespondToRequest(testCtx, req.ID, bob.ID, DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, resp.Status)
	assert.NotNil(t, resp.RespondedAt)

	assert.Equal(t, int64(2), countEdges(t, alice.ID, bob.ID))
	var pending int64
	require.NoError(t, db.ORM.Model(&models.FriendRequest{}).
		Where("status = ?", models.FriendRequestPending).Count(&pending).Error)
	assert.Zero(t, pending)

	ok, err := fs.AreFriends(testCtx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	accepted := events.byEvent(EventFriendRequestAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, []int64{alice.ID}, accepted[0].UserIDs)

	_, err = fs.SendFriendRequest(testCtx, alice.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyFriends)
}

func TestRejectIsTerminalAndAllowsNewRequest(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	fs := NewFriendService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	req, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)
	_, err = fs.RespondToRequest(testCtx, req.ID, bob.ID, DecisionReject)
	require.NoError(t, err)
	assert.Len(t, events.byEvent(EventFriendRequestRejected), 1)
	assert.Zero(t, countEdges(t, alice.ID, bob.ID))

	_, err = fs.RespondToRequest(testCtx, req.ID, bob.ID, DecisionAccept)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)

	again, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID)
}

func TestRespondToRequestErrors(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	alice := createUser(t, "alice")
	createUser(t, "bob")
	carol := createUser(t, "carol")

	req, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)

	_, err = fs.RespondToRequest(testCtx, req.ID, carol.ID, DecisionAccept)
	assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)

	// отправитель не может ответить на собственную заявку
	_, err = fs.RespondToRequest(testCtx, req.ID, alice.ID, DecisionAccept)
	assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)

	_, err = fs.RespondToRequest(testCtx, 9999, carol.ID, DecisionAccept)
	assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)

	_, err = fs.RespondToRequest(testCtx, req.ID, alice.ID, Decision("maybe"))
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
}

func TestConcurrentResponsesHaveOneWinner(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	req, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := DecisionAccept
			if i%2 == 1 {
				decision = DecisionReject
			}
			_, errs[i] = fs.RespondToRequest(testCtx, req.ID, bob.ID, decision)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, winners)

	var stored models.FriendRequest
	require.NoError(t, db.ORM.First(&stored, req.ID).Error)
	edges := countEdges(t, alice.ID, bob.ID)
	if stored.Status == models.FriendRequestAccepted {
		assert.Equal(t, int64(2), edges)
	} else {
		assert.Equal(t, models.FriendRequestRejected, stored.Status)
		assert.Zero(t, edges)
	}
}

func TestUnfriendIsIdempotent(t *testing.T) {
	setupTestDB(t)
	events := &recordingPublisher{}
	fs := NewFriendService(events)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	makeFriends(t, alice.ID, bob.ID)

	removed, err := fs.Unfriend(testCtx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Zero(t, countEdges(t, alice.ID, bob.ID))

	removed, err = fs.Unfriend(testCtx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	notified := events.byEvent(EventFriendRemoved)
	require.Len(t, notified, 1)
	assert.Equal(t, []int64{bob.ID}, notified[0].UserIDs)

	_, err = fs.Unfriend(testCtx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTarget)
}

func TestUnfriendRacingAcceptNeverLeavesOneEdge(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	req, err := fs.SendFriendRequest(testCtx, alice.ID, "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = fs.RespondToRequest(testCtx, req.ID, bob.ID, DecisionAccept)
	}()
	go func() {
		defer wg.Done()
		_, _ = fs.Unfriend(testCtx, alice.ID, bob.ID)
	}()
	wg.Wait()

	edges := countEdges(t, alice.ID, bob.ID)
	assert.Contains(t, []int64{0, 2}, edges)
}

func TestListFriendsAndPendingIncoming(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	carol := createUser(t, "carol")
	makeFriends(t, alice.ID, bob.ID)

	_, err := fs.SendFriendRequest(testCtx, carol.ID, "alice")
	require.NoError(t, err)

	friends, err := fs.ListFriends(testCtx, alice.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob.ID, friends[0].ID)

	incoming, err := fs.ListPendingIncoming(testCtx, alice.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, carol.ID, incoming[0].Sender.ID)

	outgoing, err := fs.ListPendingIncoming(testCtx, carol.ID)
	require.NoError(t, err)
	assert.Empty(t, outgoing)

	ids, err := fs.FriendIDs(testCtx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID}, ids)
}

func TestSearchUsers(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	me := createUser(t, "searcher_me")
	friend := createUser(t, "searcher_friend")
	asked := createUser(t, "searcher_asked")
	stranger := createUser(t, "searcher_stranger")
	createUser(t, "unrelated")
	makeFriends(t, me.ID, friend.ID)
	_, err := fs.SendFriendRequest(testCtx, asked.ID, me.Username)
	require.NoError(t, err)

	_, err = fs.SearchUsers(testCtx, me.ID, " s ", 10)
	assert.ErrorIs(t, err, apperrors.ErrQueryTooShort)

	results, err := fs.SearchUsers(testCtx, me.ID, "SEARCHER", 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[int64]UserSearchResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.NotContains(t, byID, me.ID)
	assert.True(t, byID[friend.ID].IsFriend)
	assert.False(t, byID[friend.ID].HasPendingRequest)
	assert.True(t, byID[asked.ID].HasPendingRequest)
	assert.False(t, byID[stranger.ID].IsFriend)
	assert.False(t, byID[stranger.ID].HasPendingRequest)

	limited, err := fs.SearchUsers(testCtx, me.ID, "searcher", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSearchUsersTreatsWildcardsLiterally(t *testing.T) {
	setupTestDB(t)
	fs := NewFriendService(nil)
	me := createUser(t, "wildcard_me")
	literal := createUser(t, "under_score")
	createUser(t, "barxscore")
	percent := createUser(t, "discount100%")
	createUser(t, "discount1000")

	results, err := fs.SearchUsers(testCtx, me.ID, "r_s", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, literal.ID, results[0].ID)

	results, err = fs.SearchUsers(testCtx, me.ID, "0%", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, percent.ID, results[0].ID)

	results, err = fs.SearchUsers(testCtx, me.ID, "%%", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = fs.SearchUsers(testCtx, me.ID, "__", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
