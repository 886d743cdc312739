package relay

// Adapter is the interface for managing room membership
type Adapter interface {
	// Add adds a peer to a room. It reports false if the peer was already a
	// member.
	Add(peerID, room string) bool

	// Remove removes a peer from a room. It reports false if the peer was
	// not a member.
	Remove(peerID, room string) bool

	// RemoveAll removes a peer from all rooms and returns the rooms it left
	RemoveAll(peerID string) []string

	// IsMember reports whether a peer is in a room
	IsMember(peerID, room string) bool

	// Members returns the peer IDs in a room, in join order
	Members(room string) []string

	// PeerRooms returns all rooms a peer is in
	PeerRooms(peerID string) []string

	// Rooms returns the number of rooms with at least one member
	Rooms() int

	// Close cleans up the adapter
	Close() error
}
