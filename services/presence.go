package services

import (
	"context"
	"log"
	"messenger/apperrors"
	"messenger/db"
	"messenger/models"
	"time"
)

// PresenceService - онлайн-статус пользователей и эфемерные события (набор текста).
// Статус меняется только на первой и последней сессии пользователя; сбои хранилища
// не мешают подключению.
type PresenceService struct {
	registry *SessionRegistry
	counter  SessionCounter
	events   EventPublisher
	friends  *FriendService
}

// NewPresenceService - counter может быть nil, тогда сессии считаются только на этом инстансе
func NewPresenceService(registry *SessionRegistry, counter SessionCounter, events EventPublisher) *PresenceService {
	if events == nil {
		events = nopPublisher{}
	}
	return &PresenceService{
		registry: registry,
		counter:  counter,
		events:   events,
		friends:  NewFriendService(events),
	}
}

// Registry - реестр сессий этого инстанса
func (ps *PresenceService) Registry() *SessionRegistry {
	return ps.registry
}

func (ps *PresenceService) Connect(ctx context.Context, s *Session) {
	local := ps.registry.Add(s)
	first := local == 1
	if ps.counter != nil {
		if n, err := ps.counter.Incr(ctx, s.UserID); err == nil {
			first = n == 1
		} else {
			log.Printf("WARN: presence counter unavailable, using local sessions: %v", err)
		}
	}
	Debugf("user %d connected, session %s, first=%v", s.UserID, s.ID, first)
	if first {
		ps.announce(ctx, s.UserID, true)
	}
}

func (ps *PresenceService) Disconnect(ctx context.Context, s *Session) {
	local := ps.registry.Remove(s)
	last := local == 0
	if ps.counter != nil {
		if n, err := ps.counter.Decr(ctx, s.UserID); err == nil {
			last = n == 0
		} else {
			log.Printf("WARN: presence counter unavailable, using local sessions: %v", err)
		}
	}
	Debugf("user %d disconnected, session %s, last=%v", s.UserID, s.ID, last)
	if last {
		ps.announce(ctx, s.UserID, false)
	}
}

// RunHeartbeat держит инстанс живым в счетчике кластера и переводит в офлайн
// пользователей, чьи сессии остались только на умерших инстансах
func (ps *PresenceService) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if ps.counter == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ps.Heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps.Heartbeat(ctx)
		}
	}
}

// Heartbeat - один проход RunHeartbeat
func (ps *PresenceService) Heartbeat(ctx context.Context) {
	if ps.counter == nil {
		return
	}
	orphaned, err := ps.counter.Heartbeat(ctx)
	if err != nil {
		log.Printf("WARN: presence heartbeat failed: %v", err)
	}
	for _, userID := range orphaned {
		Debugf("user %d lost all sessions with an expired instance", userID)
		ps.announce(ctx, userID, false)
	}
}

// announce сохраняет статус и сообщает друзьям
func (ps *PresenceService) announce(ctx context.Context, userID int64, online bool) {
	now := time.Now().UTC()
	err := db.GetWriteDB(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"is_online": online, "last_seen_at": now}).Error
	if err != nil {
		log.Printf("ERROR: failed to update presence of user %d: %v", userID, err)
	}

	friendIDs, err := ps.friends.FriendIDs(ctx, userID)
	if err != nil {
		return
	}
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	ps.events.NotifyMany(friendIDs, event, PresencePayload{UserID: userID, LastSeenAt: &now})
}

func (ps *PresenceService) typing(ctx context.Context, fromID, toID int64, event string) error {
	if fromID == toID {
		return apperrors.ErrInvalidTarget
	}
	friends, err := ps.friends.AreFriends(ctx, fromID, toID)
	if err != nil {
		return err
	}
	if !friends {
		return apperrors.ErrNotFriends
	}
	ps.events.Notify(toID, event, TypingPayload{UserID: fromID})
	return nil
}

// Typing - собеседник начал набирать текст; ничего не сохраняется
func (ps *PresenceService) Typing(ctx context.Context, fromID, toID int64) error {
	return ps.typing(ctx, fromID, toID, EventUserTyping)
}

func (ps *PresenceService) StopTyping(ctx context.Context, fromID, toID int64) error {
	return ps.typing(ctx, fromID, toID, EventUserStoppedTyping)
}
