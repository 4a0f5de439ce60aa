package services

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

const publishTimeout = 3 * time.Second

// Broadcaster - межинстансная шина (RabbitMQ)
type Broadcaster interface {
	Publish(ctx context.Context, targets []int64, frame []byte) error
}

type delivery struct {
	targets []int64
	frame   []byte
}

// Notifier - асинхронная доставка событий в живые сессии.
// Очередь ограничена: при переполнении событие отбрасывается (at-most-once).
type Notifier struct {
	registry *SessionRegistry
	bus      Broadcaster
	queue    chan delivery
	workers  int
}

func NewNotifier(registry *SessionRegistry, bus Broadcaster, queueSize, workers int) *Notifier {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &Notifier{
		registry: registry,
		bus:      bus,
		queue:    make(chan delivery, queueSize),
		workers:  workers,
	}
}

// StartWorkers запускает воркеры доставки
func (n *Notifier) StartWorkers(ctx context.Context) {
	for i := 0; i < n.workers; i++ {
		go n.worker(ctx, i)
	}
}

func (n *Notifier) worker(ctx context.Context, workerID int) {
	Debugf("notify worker %d started", workerID)
	for {
		select {
		case <-ctx.Done():
			Debugf("notify worker %d stopping", workerID)
			return
		case d := <-n.queue:
			n.dispatch(ctx, d)
		}
	}
}

// dispatch отправляет кадр через шину, при ее отсутствии или ошибке - напрямую в локальные сессии
func (n *Notifier) dispatch(ctx context.Context, d delivery) {
	if n.bus != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := n.bus.Publish(pubCtx, d.targets, d.frame)
		cancel()
		if err == nil {
			return
		}
		log.Printf("WARN: publish to broker failed, delivering locally: %v", err)
	}
	delivered := n.registry.Deliver(d.targets, d.frame)
	eventsDelivered.WithLabelValues("local").Add(float64(delivered))
}

func (n *Notifier) Notify(userID int64, event string, payload any) {
	n.NotifyMany([]int64{userID}, event, payload)
}

func (n *Notifier) NotifyMany(userIDs []int64, event string, payload any) {
	targets := uniqueIDs(userIDs)
	if len(targets) == 0 {
		return
	}
	frame, err := json.Marshal(Frame{Event: event, Payload: payload})
	if err != nil {
		log.Printf("ERROR: failed to marshal %s event: %v", event, err)
		return
	}
	select {
	case n.queue <- delivery{targets: targets, frame: frame}:
	default:
		eventsDropped.WithLabelValues("queue_full").Inc()
		log.Printf("WARN: notify queue is full, %s event for %d users dropped", event, len(targets))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
