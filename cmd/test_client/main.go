package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

type command struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id"`
	Payload   any    `json:"payload,omitempty"`
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type Stats struct {
	CommandsSent   int64
	Acks           int64
	Errors         int64
	EventsReceived int64
	TotalLatency   int64
}

type Config struct {
	ServerURL      string
	Workers        int
	Duration       int
	UserIDFrom     int64
	UserIDTo       int64
	CommandsPerSec int
}

var (
	stats Stats
)

func main() {
	config := parseFlags()

	log.Printf("Starting websocket load client with config: %+v", config)

	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	perWorker := config.CommandsPerSec / config.Workers
	if perWorker == 0 {
		perWorker = 1
	}

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		userID := config.UserIDFrom + int64(i)%(config.UserIDTo-config.UserIDFrom+1)
		go worker(i, userID, config, perWorker, done, &wg)
	}

	go printStats()

	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	if config.Duration > 0 {
		go func() {
			time.Sleep(time.Duration(config.Duration) * time.Second)
			stop()
		}()
	}

	go func() {
		<-sigChan
		log.Println("Received interrupt signal, shutting down...")
		stop()
	}()

	wg.Wait()
	printFinalStats()
}

func parseFlags() Config {
	config := Config{}

	pflag.StringVar(&config.ServerURL, "url", "ws://localhost:8080/api/v1/ws", "Websocket endpoint")
	pflag.IntVar(&config.Workers, "workers", 10, "Number of concurrent sessions")
	pflag.IntVar(&config.Duration, "duration", 60, "Test duration in seconds (0 for infinite)")
	pflag.Int64Var(&config.UserIDFrom, "user-from", 1, "Starting user ID range")
	pflag.Int64Var(&config.UserIDTo, "user-to", 100, "Ending user ID range")
	pflag.IntVar(&config.CommandsPerSec, "rps", 100, "Commands per second target")

	pflag.Parse()
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.UserIDTo < config.UserIDFrom {
		config.UserIDTo = config.UserIDFrom
	}
	return config
}

// dial открывает сессию от имени userID (сервер должен быть запущен с allow_test_auth)
func dial(serverURL string, userID int64) (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer test_token_%d", userID))
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

func worker(id int, userID int64, config Config, commandsPerSec int, done chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	conn, err := dial(config.ServerURL, userID)
	if err != nil {
		log.Printf("Worker %d (user %d): %v", id, userID, err)
		return
	}
	defer conn.Close()

	var pending sync.Map // request_id -> время отправки
	go readLoop(conn, &pending)

	ticker := time.NewTicker(time.Second / time.Duration(commandsPerSec))
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-done:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			seq++
			peer := randUserID(config.UserIDFrom, config.UserIDTo)
			for peer == userID && config.UserIDTo > config.UserIDFrom {
				peer = randUserID(config.UserIDFrom, config.UserIDTo)
			}
			cmd := command{RequestID: fmt.Sprintf("%d-%d", id, seq)}
			switch rand.Intn(4) {
			case 0, 1:
				cmd.Command = "SendMessage"
				cmd.Payload = map[string]any{"user_id": peer, "content": gofakeit.Sentence(8)}
			case 2:
				cmd.Command = "MarkRead"
				cmd.Payload = map[string]any{"user_id": peer}
			default:
				cmd.Command = "Typing"
				cmd.Payload = map[string]any{"user_id": peer}
			}
			pending.Store(cmd.RequestID, time.Now())
			if err := conn.WriteJSON(cmd); err != nil {
				log.Printf("Worker %d write failed: %v", id, err)
				return
			}
			atomic.AddInt64(&stats.CommandsSent, 1)
		}
	}
}

func readLoop(conn *websocket.Conn, pending *sync.Map) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Event {
		case "Ack", "Error":
			var p struct {
				RequestID string `json:"request_id"`
			}
			_ = json.Unmarshal(f.Payload, &p)
			if sent, ok := pending.LoadAndDelete(p.RequestID); ok {
				atomic.AddInt64(&stats.TotalLatency, time.Since(sent.(time.Time)).Milliseconds())
			}
			if f.Event == "Ack" {
				atomic.AddInt64(&stats.Acks, 1)
			} else {
				atomic.AddInt64(&stats.Errors, 1)
			}
		default:
			atomic.AddInt64(&stats.EventsReceived, 1)
		}
	}
}

func randUserID(from, to int64) int64 {
	return from + rand.Int63n(to-from+1)
}

func snapshot() (sent, acks, errs, events, avgLatency int64) {
	sent = atomic.LoadInt64(&stats.CommandsSent)
	acks = atomic.LoadInt64(&stats.Acks)
	errs = atomic.LoadInt64(&stats.Errors)
	events = atomic.LoadInt64(&stats.EventsReceived)
	if answered := acks + errs; answered > 0 {
		avgLatency = atomic.LoadInt64(&stats.TotalLatency) / answered
	}
	return
}

func printStats() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		sent, acks, errs, events, avgLatency := snapshot()
		log.Printf("[STATS] Sent: %d | Acks: %d | Errors: %d | Events: %d | Avg Latency: %dms",
			sent, acks, errs, events, avgLatency)
	}
}

func printFinalStats() {
	sent, acks, errs, events, avgLatency := snapshot()

	log.Println("========== FINAL STATISTICS ==========")
	log.Printf("Commands Sent:      %d", sent)
	log.Printf("Acks:               %d", acks)
	log.Printf("Errors:             %d", errs)
	log.Printf("Events Received:    %d", events)
	log.Printf("Average Latency:    %dms", avgLatency)
	log.Println("======================================")
}
