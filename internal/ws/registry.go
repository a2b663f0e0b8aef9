package ws

import (
	"encoding/json"
	"hash/fnv"
	"sync"
)

const registryShards = 16

// Registry tracks live connections per session room. It is sharded by
// session ID so broadcasts for one room never contend with another's.
type Registry struct {
	shards [registryShards]*registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{rooms: make(map[string]map[*Client]struct{})}
	}
	return r
}

func (r *Registry) shard(sessionID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return r.shards[h.Sum32()%registryShards]
}

// Register adds a client to its session room.
func (r *Registry) Register(c *Client) {
	s := r.shard(c.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[c.SessionID]
	if !ok {
		room = make(map[*Client]struct{})
		s.rooms[c.SessionID] = room
	}
	room[c] = struct{}{}
}

// Unregister removes a client; empty rooms are deleted.
func (r *Registry) Unregister(c *Client) {
	s := r.shard(c.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[c.SessionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(s.rooms, c.SessionID)
	}
}

// Broadcast sends one event to every connection in a room. The frame is
// marshalled once.
func (r *Registry) Broadcast(sessionID string, event Event, payload any) {
	raw, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return
	}
	for _, c := range r.snapshot(sessionID, nil) {
		c.SendRaw(raw)
	}
}

// BroadcastRaw fans a pre-marshalled frame out to a room, used by the
// event relay which receives frames already encoded on the bus.
func (r *Registry) BroadcastRaw(sessionID string, raw []byte) {
	for _, c := range r.snapshot(sessionID, nil) {
		c.SendRaw(raw)
	}
}

// BroadcastRole sends to connections of the given roles only.
func (r *Registry) BroadcastRole(sessionID string, event Event, payload any, roles ...Role) {
	raw, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return
	}
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	for _, c := range r.snapshot(sessionID, allowed) {
		c.SendRaw(raw)
	}
}

// SendTo delivers an event to one participant's connections.
func (r *Registry) SendTo(sessionID, participantID string, event Event, payload any) {
	for _, c := range r.snapshot(sessionID, nil) {
		if c.ParticipantID == participantID {
			c.Send(event, payload)
		}
	}
}

// FindParticipant returns the participant's live connection, nil when
// disconnected.
func (r *Registry) FindParticipant(sessionID, participantID string) *Client {
	for _, c := range r.snapshot(sessionID, nil) {
		if c.ParticipantID == participantID && c.Role == RoleParticipant {
			return c
		}
	}
	return nil
}

// CloseRoom disconnects every client in a session room.
func (r *Registry) CloseRoom(sessionID string) {
	for _, c := range r.snapshot(sessionID, nil) {
		c.Close()
	}
}

// CountByRoom returns the number of live connections in a room.
func (r *Registry) CountByRoom(sessionID string) int {
	s := r.shard(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[sessionID])
}

// CountAll returns the total number of live connections.
func (r *Registry) CountAll() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, room := range s.rooms {
			total += len(room)
		}
		s.mu.RUnlock()
	}
	return total
}

// snapshot copies a room's clients so sends happen outside the lock.
func (r *Registry) snapshot(sessionID string, roles map[Role]struct{}) []*Client {
	s := r.shard(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[sessionID]
	out := make([]*Client, 0, len(room))
	for c := range room {
		if roles != nil {
			if _, ok := roles[c.Role]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
