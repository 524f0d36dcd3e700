package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
)

const (
	RealtimeEventDaysChanged = "days-changed"
	realtimeEventHeartbeat   = "heartbeat"
	realtimeSourceBackend    = "worklog-backend"
	defaultHeartbeatInterval = 25 * time.Second
)

type RealtimeMessage struct {
	Username   string
	EventType  string
	Dates      []string
	YearMonths []string
	Timestamp  time.Time
}

// RealtimeDispatcher fans change notifications out to per-user subscribers.
// Slow subscribers drop messages instead of blocking writers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, username string) (<-chan RealtimeMessage, func()) {
	if username == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(username, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(username, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Username == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Username]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishChange adapts committed worklog writes into days-changed messages.
func (d *RealtimeDispatcher) PublishChange(event worklog.ChangeEvent) {
	timestamp := event.At
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	d.Publish(RealtimeMessage{
		Username:   event.Username,
		EventType:  RealtimeEventDaysChanged,
		Dates:      event.Dates,
		YearMonths: event.YearMonths,
		Timestamp:  timestamp,
	})
}

func (d *RealtimeDispatcher) subscriberCount(username string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[username])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(username string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[username]; !ok {
		d.subscribers[username] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[username][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(username string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[username]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, username)
		}
	}
	d.mu.Unlock()
}
