package chat

import "context"

// History serves paginated message replay. The store is queried newest-first
// for efficient "most recent N" retrieval; the returned page is reversed to
// chronological ascending order, which is the display contract. Skip-based
// pagination can drift when messages are inserted concurrently; history is a
// best-effort snapshot, not a transactionally consistent cursor.
type History struct {
	store *Store
}

// NewHistory wraps the message store with the replay protocol.
func NewHistory(store *Store) *History {
	return &History{store: store}
}

// RoomPage returns up to limit room messages in ascending creation order.
// An empty room yields an empty page, not an error.
func (h *History) RoomPage(ctx context.Context, room string, limit, skip int) ([]Message, error) {
	messages, err := h.store.QueryRoom(ctx, room, limit, skip)
	if err != nil {
		return nil, err
	}
	return reverseChronological(messages), nil
}

// DirectPage returns up to limit direct messages between the requester and
// the counterpart in ascending creation order. The requester's own identity
// is always one half of the queried pair; a self pair (requester ==
// counterpart) is permitted and resolves to the canonical self room.
func (h *History) DirectPage(ctx context.Context, requesterID, counterpartID string, limit, skip int) ([]Message, error) {
	messages, err := h.store.QueryParticipantPair(ctx, requesterID, counterpartID, limit, skip)
	if err != nil {
		return nil, err
	}
	return reverseChronological(messages), nil
}

func reverseChronological(messages []Message) []Message {
	ordered := make([]Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		ordered = append(ordered, messages[i])
	}
	return ordered
}
