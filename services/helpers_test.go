package services

import (
	"context"
	"fmt"
	"messenger/db"
	"messenger/models"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

// setupTestDB поднимает отдельную in-memory SQLite на тест и подменяет db.ORM
func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := db.Open(sqlite.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(database))

	prev := db.ORM
	db.ORM = database
	t.Cleanup(func() {
		db.ORM = prev
		_ = sqlDB.Close()
	})
}

func createUser(t *testing.T, username string) *models.User {
	t.Helper()
	if username == "" {
		username = gofakeit.Username() + "_" + uuid.NewString()[:8]
	}
	user := &models.User{
		Username:  username,
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Password:  "x",
	}
	require.NoError(t, db.ORM.Create(user).Error)
	return user
}

func makeFriends(t *testing.T, a, b int64) {
	t.Helper()
	require.NoError(t, db.ORM.Create(&[]models.Friend{
		{UserID: a, FriendID: b},
		{UserID: b, FriendID: a},
	}).Error)
}

func countEdges(t *testing.T, a, b int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.ORM.Model(&models.Friend{}).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
		Count(&n).Error)
	return n
}

type recordedEvent struct {
	UserIDs []int64
	Event   string
	Payload any
}

// recordingPublisher запоминает события вместо доставки
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingPublisher) Notify(userID int64, event string, payload any) {
	r.NotifyMany([]int64{userID}, event, payload)
}

func (r *recordingPublisher) NotifyMany(userIDs []int64, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{UserIDs: uniqueIDs(userIDs), Event: event, Payload: payload})
}

func (r *recordingPublisher) byEvent(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingPublisher) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var testCtx = context.Background()
