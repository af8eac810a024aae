package service

import (
	"sync"

	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

// Realtime event names.
const (
	EventJoined         = "joined"
	EventLeft           = "left"
	EventReceiveMessage = "receiveMessage"
	EventPaymentUpdated = "paymentUpdated"
	EventError          = "error"
)

// Event is one outbound realtime frame.
type Event struct {
	Event     string                 `json:"event"`
	Room      string                 `json:"room,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Message   *domain.Message        `json:"message,omitempty"`
	Payment   *domain.PaymentRequest `json:"payment,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Code      string                 `json:"code,omitempty"`
}

// Subscriber receives room events. Deliver must not block; returning false
// means the subscriber is gone or saturated and gets dropped.
type Subscriber interface {
	ID() string
	Deliver(ev Event) bool
}

// Broadcaster is the in-process room table. Rooms are keyed by session id.
type Broadcaster struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Subscriber
	members map[string]map[string]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms:   map[string]map[string]Subscriber{},
		members: map[string]map[string]struct{}{},
	}
}

func (b *Broadcaster) Join(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[room]
	if !ok {
		subs = map[string]Subscriber{}
		b.rooms[room] = subs
	}
	subs[sub.ID()] = sub
	joined, ok := b.members[sub.ID()]
	if !ok {
		joined = map[string]struct{}{}
		b.members[sub.ID()] = joined
	}
	joined[room] = struct{}{}
}

func (b *Broadcaster) Leave(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(room, sub.ID())
}

// LeaveAll removes sub from every room it joined.
func (b *Broadcaster) LeaveAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room := range b.members[sub.ID()] {
		b.leaveLocked(room, sub.ID())
	}
}

func (b *Broadcaster) leaveLocked(room, subID string) {
	if subs, ok := b.rooms[room]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(b.rooms, room)
		}
	}
	if joined, ok := b.members[subID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(b.members, subID)
		}
	}
}

func (b *Broadcaster) Joined(room string, sub Subscriber) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.rooms[room][sub.ID()]
	return ok
}

func (b *Broadcaster) Size(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

// Publish hands ev to every subscriber of room and returns how many accepted
// it. Subscribers that refuse are removed from all rooms.
func (b *Broadcaster) Publish(room string, ev Event) int {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.rooms[room]))
	for _, sub := range b.rooms[room] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(ev) {
			delivered++
			continue
		}
		commonlog.Warnf("event=realtime_deliver action=drop status=failed room=%s subscriber=%s", room, sub.ID())
		b.LeaveAll(sub)
	}
	return delivered
}
