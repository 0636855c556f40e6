// Package broadcast fans auction events out to subscribers. Each auction has
// a room; events published to a room carry a monotone per-auction sequence
// number and reach every subscriber in publish order. Delivery is
// best-effort: a subscriber that cannot keep up is dropped, never waited on.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber is one connection's attachment to a room. Deliver must not
// block; returning false means the subscriber's queue is full and it will be
// evicted from the room.
type Subscriber interface {
	ConnectionID() uuid.UUID
	UserID() uuid.UUID
	Username() string
	Deliver(payload []byte) bool
}

// Fabric owns the auction rooms.
type Fabric struct {
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[uuid.UUID]*Room

	onDrop func(auctionID uuid.UUID, sub Subscriber)
}

// NewFabric creates an empty fabric.
func NewFabric(logger *zap.Logger) *Fabric {
	return &Fabric{
		logger: logger,
		rooms:  make(map[uuid.UUID]*Room),
	}
}

// OnDrop registers a callback invoked when a slow subscriber is evicted.
// The gateway uses it to tear the connection down.
func (f *Fabric) OnDrop(fn func(auctionID uuid.UUID, sub Subscriber)) {
	f.onDrop = fn
}

// Room returns the room for an auction, creating it on first reference.
func (f *Fabric) Room(auctionID uuid.UUID) *Room {
	f.mu.RLock()
	r, ok := f.rooms[auctionID]
	f.mu.RUnlock()
	if ok {
		return r
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok = f.rooms[auctionID]; ok {
		return r
	}
	r = &Room{
		auctionID:   auctionID,
		fabric:      f,
		subscribers: make(map[uuid.UUID]*membership),
	}
	f.rooms[auctionID] = r
	return r
}

// Lookup returns the room for an auction without creating one. Leave and
// peer paths use it so a client naming an arbitrary id cannot grow the map.
func (f *Fabric) Lookup(auctionID uuid.UUID) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rooms[auctionID]
	return r, ok
}

// CloseRoom evicts every subscriber and forgets the room. Called when an
// auction is evicted from the registry.
func (f *Fabric) CloseRoom(auctionID uuid.UUID) {
	f.mu.Lock()
	r, ok := f.rooms[auctionID]
	if ok {
		delete(f.rooms, auctionID)
	}
	f.mu.Unlock()

	if !ok {
		return
	}
	r.mu.Lock()
	r.subscribers = make(map[uuid.UUID]*membership)
	r.mu.Unlock()
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect.
func (f *Fabric) LeaveAll(connID uuid.UUID) []uuid.UUID {
	f.mu.RLock()
	rooms := make([]*Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	f.mu.RUnlock()

	var left []uuid.UUID
	for _, r := range rooms {
		if r.remove(connID) {
			left = append(left, r.auctionID)
		}
	}
	return left
}

// Room is one auction's subscriber set plus its event sequence.
type Room struct {
	auctionID uuid.UUID
	fabric    *Fabric

	mu          sync.Mutex
	seq         uint64
	subscribers map[uuid.UUID]*membership
}

type membership struct {
	sub      Subscriber
	joinedAt time.Time
}

// AuctionID returns the auction this room serves.
func (r *Room) AuctionID() uuid.UUID {
	return r.auctionID
}

// Join adds a subscriber and returns the last assigned sequence number, so
// the caller can build a snapshot the client can splice against.
func (r *Room) Join(sub Subscriber) (lastSeq uint64, alreadyJoined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[sub.ConnectionID()]; ok {
		return r.seq, true
	}
	r.subscribers[sub.ConnectionID()] = &membership{sub: sub, joinedAt: time.Now().UTC()}
	return r.seq, false
}

// Leave removes a subscriber; reports whether it was a member.
func (r *Room) Leave(connID uuid.UUID) bool {
	return r.remove(connID)
}

func (r *Room) remove(connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[connID]; !ok {
		return false
	}
	delete(r.subscribers, connID)
	return true
}

// LastSeq returns the last assigned sequence number.
func (r *Room) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Size returns the current subscriber count.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Publish assigns the next sequence number, builds the payload, and enqueues
// it to every subscriber. The room lock holds across assignment and
// enqueueing, so every subscriber observes events in sequence order with no
// gaps. Subscribers whose queues are full are evicted.
func (r *Room) Publish(build func(seq uint64) []byte) uint64 {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	payload := build(seq)

	var dropped []*membership
	for id, m := range r.subscribers {
		if !m.sub.Deliver(payload) {
			delete(r.subscribers, id)
			dropped = append(dropped, m)
		}
	}
	r.mu.Unlock()

	for _, m := range dropped {
		r.fabric.logger.Warn("dropping slow subscriber",
			zap.String("auction_id", r.auctionID.String()),
			zap.String("connection_id", m.sub.ConnectionID().String()),
			zap.String("user_id", m.sub.UserID().String()))
		if r.fabric.onDrop != nil {
			r.fabric.onDrop(r.auctionID, m.sub)
		}
	}
	return seq
}

// Members snapshots the current subscribers, for peer listings.
func (r *Room) Members() []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscriber, 0, len(r.subscribers))
	for _, m := range r.subscribers {
		out = append(out, m.sub)
	}
	return out
}
