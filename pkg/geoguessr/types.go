package geoguessr

// Friend is one entry of the bot account's friend list.
type Friend struct {
	UserID string `json:"userId"`
	Nick   string `json:"nick"`
	URL    string `json:"url"`
}

// FriendRequest is an inbound friend request waiting for the bot.
type FriendRequest struct {
	UserID string `json:"userId"`
	Nick   string `json:"nick"`
	URL    string `json:"url"`
}

// ChatMessage is one message of a private chat room.
type ChatMessage struct {
	ID          string `json:"id"`
	PayloadType string `json:"payloadType"`
	TextPayload string `json:"textPayload"`
	SourceType  string `json:"sourceType"`
	SourceID    string `json:"sourceId"`
	RecipientID string `json:"recipientId"`
	SentAt      string `json:"sentAt"`
	RoomID      string `json:"roomId"`
}

type chatResponse struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}
