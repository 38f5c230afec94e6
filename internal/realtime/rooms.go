package realtime

// UserRoom is the personal notification channel, joined automatically on
// connect.
func UserRoom(userID string) string {
	return "user_" + userID
}

// ChatRoom is the live message channel for a conversation, joined on request.
func ChatRoom(chatID string) string {
	return "chat_" + chatID
}
