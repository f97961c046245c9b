package signal

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/castlab/studio/gateway"
	"github.com/castlab/studio/internal/log"
	isync "github.com/castlab/studio/internal/sync"
	"github.com/castlab/studio/internal/wsevent"
	"github.com/castlab/studio/internal/zset"
	"github.com/castlab/studio/users"
)

// roomMember is one connection's live state inside a room.
type roomMember struct {
	connID string
	userID string
	user   *users.Summary
	media  gateway.MediaState
	conn   wsevent.Conn[session]
}

// presenceTable owns the process-wide room membership state: which
// connections are in which room, in join order, plus a registry of every
// live connection for unicast relay. A room entry exists only while it has
// at least one member.
type presenceTable struct {
	mu         sync.RWMutex
	room2conns map[string]map[string]*roomMember
	order      map[string][]string // roomID -> connIDs in join order
	conn2room  map[string]string
	roomAges   *zset.Zset[struct{}]

	registry *isync.Map[string, wsevent.Conn[session]]

	clock  clockwork.Clock
	logger *log.Logger
}

func newPresenceTable(clock clockwork.Clock, logger *log.Logger) *presenceTable {
	return &presenceTable{
		room2conns: make(map[string]map[string]*roomMember),
		order:      make(map[string][]string),
		conn2room:  make(map[string]string),
		roomAges:   zset.New[struct{}](),
		registry:   isync.NewMap[string, wsevent.Conn[session]](),
		clock:      clock,
		logger:     logger,
	}
}

// Register tracks a live connection before it joins any room, so
// negotiation relay can reach it.
func (p *presenceTable) Register(connID string, conn wsevent.Conn[session]) {
	p.registry.Store(connID, conn)
}

func (p *presenceTable) Unregister(connID string) {
	p.registry.Delete(connID)
}

// Lookup returns the live connection for connID, nil when it is gone.
func (p *presenceTable) Lookup(connID string) wsevent.Conn[session] {
	conn, ok := p.registry.Load(connID)
	if !ok {
		return nil
	}
	return conn
}

// Join adds the member to the room, creating the room entry lazily.
// The caller must have removed the connection from any previous room first.
func (p *presenceTable) Join(roomID string, m *roomMember) {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.room2conns[roomID]
	if !ok {
		room = make(map[string]*roomMember)
		p.room2conns[roomID] = room
		p.roomAges.Put(roomID, struct{}{}, p.clock.Now())
	}
	if _, dup := room[m.connID]; !dup {
		p.order[roomID] = append(p.order[roomID], m.connID)
	}
	room[m.connID] = m
	p.conn2room[m.connID] = roomID

	p.logger.Debug("Member joined room",
		log.String("connId", m.connID),
		log.String("roomId", roomID),
	)
}

// Remove takes the connection out of whatever room it is in. Reports the
// room it was in and whether the room entry was deleted because it emptied.
func (p *presenceTable) Remove(connID string) (roomID string, emptied bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	roomID, ok = p.conn2room[connID]
	if !ok {
		return "", false, false
	}

	if room, exists := p.room2conns[roomID]; exists {
		delete(room, connID)
		p.order[roomID] = removeString(p.order[roomID], connID)
		if len(room) == 0 {
			delete(p.room2conns, roomID)
			delete(p.order, roomID)
			p.roomAges.Remove(roomID)
			emptied = true
		}
	}
	delete(p.conn2room, connID)

	p.logger.Debug("Member removed from room",
		log.String("connId", connID),
		log.String("roomId", roomID),
		log.Bool("emptied", emptied),
	)
	return roomID, emptied, true
}

// Members returns the room's members in join order.
func (p *presenceTable) Members(roomID string) []*roomMember {
	p.mu.RLock()
	defer p.mu.RUnlock()

	room := p.room2conns[roomID]
	if room == nil {
		return nil
	}

	members := make([]*roomMember, 0, len(room))
	for _, connID := range p.order[roomID] {
		if m, ok := room[connID]; ok {
			members = append(members, m)
		}
	}
	return members
}

// SetMedia updates the member's media state and reports which room it is in.
func (p *presenceTable) SetMedia(connID string, media gateway.MediaState) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	roomID, ok := p.conn2room[connID]
	if !ok {
		return "", false
	}
	if m, exists := p.room2conns[roomID][connID]; exists {
		m.media = media
	}
	return roomID, true
}

// Stats is a point-in-time snapshot for the /stats endpoint.
type Stats struct {
	Rooms            int     `json:"rooms"`
	Members          int     `json:"members"`
	Connections      int     `json:"connections"`
	OldestRoomAgeSec float64 `json:"oldestRoomAgeSec"`
}

func (p *presenceTable) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		Rooms:       len(p.room2conns),
		Members:     len(p.conn2room),
		Connections: p.registry.Len(),
	}
	if _, _, ts, ok := p.roomAges.Peek(); ok {
		stats.OldestRoomAgeSec = p.clock.Now().Sub(ts).Seconds()
	}
	return stats
}

// Broadcast sends the event to every member of the room except exceptConnID.
// Pass an empty exceptConnID to reach everyone.
func (p *presenceTable) Broadcast(roomID, event string, data interface{}, exceptConnID string) {
	members := p.Members(roomID)

	for _, m := range members {
		if m.connID == exceptConnID {
			continue
		}
		ctx := m.conn.Context().Get().reqCtx
		if err := m.conn.Send(ctx, event, data); err != nil {
			p.logger.Error("Failed to send to member",
				log.String("roomId", roomID),
				log.String("connId", m.connID),
				log.String("event", event),
				log.Error(err),
			)
			broadcastsFailed.Add(ctx, 1)
		}
	}
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
