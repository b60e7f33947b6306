package entity

import (
	"strings"
	"time"
)

const (
	UnreadFieldPrefix = "unread_"
	SeenAtFieldPrefix = "seenAt_"
)

// ChatSummary is the denormalized chat-list record kept at chatSummaries/{chatId}.
// Unread and SeenAt are stored as dynamic top-level fields unread_{uid} and seenAt_{uid}.
type ChatSummary struct {
	ChatID        string               `json:"chat_id"`
	Users         []string             `json:"users"`
	LastMessage   string               `json:"last_message"`
	LastSender    string               `json:"last_sender"`
	LastReceiver  string               `json:"last_receiver"`
	LastMessageID string               `json:"last_message_id"`
	LastTimestamp *time.Time           `json:"last_timestamp"`
	Unread        map[string]int64     `json:"unread"`
	SeenAt        map[string]time.Time `json:"seen_at"`
}

func UnreadField(userID string) string {
	return UnreadFieldPrefix + userID
}

func SeenAtField(userID string) string {
	return SeenAtFieldPrefix + userID
}

// HasUser reports whether userID is listed on the summary.
func (s *ChatSummary) HasUser(userID string) bool {
	for _, u := range s.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Participants returns every user known to the summary, either listed in
// Users or carrying an unread counter.
func (s *ChatSummary) Participants() []string {
	seen := make(map[string]struct{}, len(s.Users)+len(s.Unread))
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, u := range s.Users {
		add(u)
	}
	for u := range s.Unread {
		add(u)
	}
	return out
}

// SummaryFromMap decodes a raw summary document, including the dynamic
// per-user fields that a struct decode cannot express.
func SummaryFromMap(chatID string, data map[string]interface{}) *ChatSummary {
	s := &ChatSummary{
		ChatID: chatID,
		Unread: make(map[string]int64),
		SeenAt: make(map[string]time.Time),
	}

	for key, value := range data {
		switch {
		case key == "users":
			s.Users = toStrings(value)
		case key == "lastMessage":
			s.LastMessage, _ = value.(string)
		case key == "lastSender":
			s.LastSender, _ = value.(string)
		case key == "lastReceiver":
			s.LastReceiver, _ = value.(string)
		case key == "lastMessageId":
			s.LastMessageID, _ = value.(string)
		case key == "lastTimestamp":
			if t, ok := value.(time.Time); ok && !t.IsZero() {
				t = t.UTC()
				s.LastTimestamp = &t
			}
		case strings.HasPrefix(key, UnreadFieldPrefix):
			s.Unread[strings.TrimPrefix(key, UnreadFieldPrefix)] = toInt64(value)
		case strings.HasPrefix(key, SeenAtFieldPrefix):
			if t, ok := value.(time.Time); ok {
				s.SeenAt[strings.TrimPrefix(key, SeenAtFieldPrefix)] = t.UTC()
			}
		}
	}

	return s
}

func toStrings(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...)
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
