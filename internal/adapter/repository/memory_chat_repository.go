package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
)

// MemoryChatRepository is a process-local ChatRepository for development
// (STORE_BACKEND=memory) and tests. It assigns strictly increasing server
// timestamps and pushes live windows to listeners like the Firestore backend.
type MemoryChatRepository struct {
	mu        sync.Mutex
	chats     map[string]map[string]*entity.Message
	summaries map[string]*entity.ChatSummary
	listeners map[*memoryListener]struct{}
	lastTime  time.Time
	writes    int
	now       func() time.Time
}

type memoryListener struct {
	chatID string
	userID string
	notify chan struct{}
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		chats:     make(map[string]map[string]*entity.Message),
		summaries: make(map[string]*entity.ChatSummary),
		listeners: make(map[*memoryListener]struct{}),
		now:       time.Now,
	}
}

var _ repository.ChatRepository = (*MemoryChatRepository)(nil)

// Writes returns the number of document writes performed so far.
func (r *MemoryChatRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// serverTime must be called with mu held.
func (r *MemoryChatRepository) serverTime() time.Time {
	t := r.now().UTC().Truncate(time.Microsecond)
	if !t.After(r.lastTime) {
		t = r.lastTime.Add(time.Microsecond)
	}
	r.lastTime = t
	return t
}

// summaryFor must be called with mu held.
func (r *MemoryChatRepository) summaryFor(chatID string) *entity.ChatSummary {
	s, ok := r.summaries[chatID]
	if !ok {
		s = &entity.ChatSummary{
			ChatID: chatID,
			Unread: make(map[string]int64),
			SeenAt: make(map[string]time.Time),
		}
		r.summaries[chatID] = s
	}
	return s
}

func (r *MemoryChatRepository) CreateMessage(ctx context.Context, chatID string, message *entity.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *message
	stored.ID = uuid.NewString()
	stored.ChatID = chatID
	stored.CreatedAt = r.serverTime()
	stored.IsRead = false
	stored.ReadAt = nil
	stored.IsOptimistic = false

	if r.chats[chatID] == nil {
		r.chats[chatID] = make(map[string]*entity.Message)
	}
	r.chats[chatID][stored.ID] = &stored

	s := r.summaryFor(chatID)
	s.Users = []string{stored.SenderID, stored.ReceiverID}
	s.LastMessage = stored.Preview()
	s.LastSender = stored.SenderID
	s.LastReceiver = stored.ReceiverID
	s.LastMessageID = stored.ID
	ts := stored.CreatedAt
	s.LastTimestamp = &ts
	s.Unread[stored.ReceiverID]++

	r.writes += 2
	r.notify(chatID)
	return stored.ID, nil
}

func (r *MemoryChatRepository) GetMessage(ctx context.Context, chatID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.chats[chatID][messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return cloneMessage(m), nil
}

func (r *MemoryChatRepository) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.chats[chatID], messageID)
	r.writes++
	r.notify(chatID)
	return nil
}

func (r *MemoryChatRepository) ListMessages(ctx context.Context, chatID string, before *entity.Cursor, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newestFirst(chatID, before, limit), nil
}

// newestFirst must be called with mu held.
func (r *MemoryChatRepository) newestFirst(chatID string, before *entity.Cursor, limit int) []*entity.Message {
	out := make([]*entity.Message, 0, len(r.chats[chatID]))
	for _, m := range r.chats[chatID] {
		if before != nil && !before.Before(m.CreatedAt, m.ID) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryChatRepository) ListAllMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newestFirst(chatID, nil, 0), nil
}

func (r *MemoryChatRepository) ListenMessages(ctx context.Context, chatID string, limit int, fn repository.MessageListener) (func(), error) {
	l := &memoryListener{chatID: chatID, notify: make(chan struct{}, 1)}
	return r.listen(ctx, l, func() (string, func()) {
		messages := r.newestFirst(chatID, nil, limit)
		return windowSignature(messages), func() { fn(messages, nil) }
	}), nil
}

func (r *MemoryChatRepository) ListenSummaries(ctx context.Context, userID string, fn repository.SummaryListener) (func(), error) {
	l := &memoryListener{userID: userID, notify: make(chan struct{}, 1)}
	return r.listen(ctx, l, func() (string, func()) {
		summaries := r.summariesOf(userID)
		return summariesSignature(summaries), func() { fn(summaries, nil) }
	}), nil
}

// listen registers l and runs a delivery loop. snapshot is evaluated under
// mu; deliveries happen outside the lock and are skipped when the signature
// of the window did not change.
func (r *MemoryChatRepository) listen(ctx context.Context, l *memoryListener, snapshot func() (string, func())) func() {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.listeners[l] = struct{}{}
	r.mu.Unlock()
	l.notify <- struct{}{}

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.listeners, l)
			r.mu.Unlock()
		}()

		var last string
		first := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.notify:
			}

			r.mu.Lock()
			sig, deliver := snapshot()
			r.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			if !first && sig == last {
				continue
			}
			first = false
			last = sig
			deliver()
		}
	}()

	return cancel
}

// notify must be called with mu held.
func (r *MemoryChatRepository) notify(chatID string) {
	s := r.summaries[chatID]
	for l := range r.listeners {
		switch {
		case l.chatID != "" && l.chatID == chatID:
		case l.userID != "" && s != nil && s.HasUser(l.userID):
		default:
			continue
		}
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

func (r *MemoryChatRepository) ListUnreadMessageIDs(ctx context.Context, chatID, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, m := range r.chats[chatID] {
		if m.ReceiverID == userID && !m.IsRead {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryChatRepository) MarkMessagesRead(ctx context.Context, chatID, userID string, messageIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.serverTime()
	for _, id := range messageIDs {
		m, ok := r.chats[chatID][id]
		if !ok {
			return errors.NotFound("Message", nil)
		}
		readAt := now
		m.IsRead = true
		m.ReadAt = &readAt
		r.writes++
	}

	s := r.summaryFor(chatID)
	s.Unread[userID] = 0
	s.SeenAt[userID] = now
	r.writes++

	r.notify(chatID)
	return nil
}

func (r *MemoryChatRepository) SetSummaryLast(ctx context.Context, chatID string, last *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.summaryFor(chatID)
	if last == nil {
		s.LastMessage = ""
		s.LastSender = ""
		s.LastReceiver = ""
		s.LastMessageID = ""
		s.LastTimestamp = nil
	} else {
		s.LastMessage = last.Preview()
		s.LastSender = last.SenderID
		s.LastReceiver = last.ReceiverID
		s.LastMessageID = last.ID
		ts := last.CreatedAt
		s.LastTimestamp = &ts
	}
	r.writes++

	r.notify(chatID)
	return nil
}

func (r *MemoryChatRepository) DeleteMessages(ctx context.Context, chatID string, messageIDs []string, clearUnreadFor []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range messageIDs {
		delete(r.chats[chatID], id)
		r.writes++
	}

	s := r.summaryFor(chatID)
	s.LastMessage = ""
	s.LastSender = ""
	s.LastReceiver = ""
	s.LastMessageID = ""
	ts := r.serverTime()
	s.LastTimestamp = &ts
	for _, userID := range clearUnreadFor {
		s.Unread[userID] = 0
	}
	r.writes++

	r.notify(chatID)
	return nil
}

func (r *MemoryChatRepository) GetSummary(ctx context.Context, chatID string) (*entity.ChatSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.summaries[chatID]
	if !ok {
		return nil, errors.NotFound("Chat summary", nil)
	}
	return cloneSummary(s), nil
}

// summariesOf must be called with mu held.
func (r *MemoryChatRepository) summariesOf(userID string) []*entity.ChatSummary {
	var out []*entity.ChatSummary
	for _, s := range r.summaries {
		if s.HasUser(userID) {
			out = append(out, cloneSummary(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastTimestamp, out[j].LastTimestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out
}

func cloneMessage(m *entity.Message) *entity.Message {
	c := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

func cloneSummary(s *entity.ChatSummary) *entity.ChatSummary {
	c := *s
	c.Users = append([]string(nil), s.Users...)
	if s.LastTimestamp != nil {
		t := *s.LastTimestamp
		c.LastTimestamp = &t
	}
	c.Unread = make(map[string]int64, len(s.Unread))
	for k, v := range s.Unread {
		c.Unread[k] = v
	}
	c.SeenAt = make(map[string]time.Time, len(s.SeenAt))
	for k, v := range s.SeenAt {
		c.SeenAt[k] = v
	}
	return &c
}

func windowSignature(messages []*entity.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.ID)
		if m.IsRead {
			b.WriteString(":r")
		}
		b.WriteByte('|')
	}
	return b.String()
}

func summariesSignature(summaries []*entity.ChatSummary) string {
	var b strings.Builder
	for _, s := range summaries {
		b.WriteString(s.ChatID)
		b.WriteByte(':')
		b.WriteString(s.LastMessageID)
		if s.LastTimestamp != nil {
			b.WriteString(strconv.FormatInt(s.LastTimestamp.UnixNano(), 10))
		}
		for _, u := range s.Users {
			b.WriteString(":" + u + "=" + strconv.FormatInt(s.Unread[u], 10))
		}
		b.WriteByte('|')
	}
	return b.String()
}
