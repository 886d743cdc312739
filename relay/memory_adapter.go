package relay

import (
	"sort"
	"sync"
)

// MemoryAdapter is an in-memory implementation of the Adapter interface
type MemoryAdapter struct {
	rooms     map[string][]string        // room -> peer IDs in join order
	peerRooms map[string]map[string]bool // peer ID -> rooms
	mu        sync.RWMutex
}

// NewMemoryAdapter creates a new in-memory adapter
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		rooms:     make(map[string][]string),
		peerRooms: make(map[string]map[string]bool),
	}
}

// Add adds a peer to a room
func (a *MemoryAdapter) Add(peerID, room string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.peerRooms[peerID][room] {
		return false
	}
	a.rooms[room] = append(a.rooms[room], peerID)

	if a.peerRooms[peerID] == nil {
		a.peerRooms[peerID] = make(map[string]bool)
	}
	a.peerRooms[peerID][room] = true
	return true
}

// Remove removes a peer from a room
func (a *MemoryAdapter) Remove(peerID, room string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.peerRooms[peerID][room] {
		return false
	}
	a.removeLocked(peerID, room)

	delete(a.peerRooms[peerID], room)
	if len(a.peerRooms[peerID]) == 0 {
		delete(a.peerRooms, peerID)
	}
	return true
}

// RemoveAll removes a peer from all rooms
func (a *MemoryAdapter) RemoveAll(peerID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	left := make([]string, 0, len(a.peerRooms[peerID]))
	for room := range a.peerRooms[peerID] {
		a.removeLocked(peerID, room)
		left = append(left, room)
	}
	delete(a.peerRooms, peerID)

	sort.Strings(left)
	return left
}

func (a *MemoryAdapter) removeLocked(peerID, room string) {
	members := a.rooms[room]
	for i, id := range members {
		if id == peerID {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(a.rooms, room)
	} else {
		a.rooms[room] = members
	}
}

// IsMember reports whether a peer is in a room
func (a *MemoryAdapter) IsMember(peerID, room string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.peerRooms[peerID][room]
}

// Members returns all peer IDs in a room
func (a *MemoryAdapter) Members(room string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return append(make([]string, 0, len(a.rooms[room])), a.rooms[room]...)
}

// PeerRooms returns all rooms a peer is in
func (a *MemoryAdapter) PeerRooms(peerID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rooms := a.peerRooms[peerID]
	result := make([]string, 0, len(rooms))
	for room := range rooms {
		result = append(result, room)
	}
	sort.Strings(result)
	return result
}

// Rooms returns the number of occupied rooms
func (a *MemoryAdapter) Rooms() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.rooms)
}

// Close cleans up the adapter
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rooms = make(map[string][]string)
	a.peerRooms = make(map[string]map[string]bool)

	return nil
}
