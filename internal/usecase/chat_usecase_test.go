package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/adapter/repository"
	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/storage"
	"chatsync/pkg/errors"
)

const (
	alice = "alice"
	bob   = "bob"
)

type failingCreateRepo struct {
	*repository.MemoryChatRepository
}

func (r *failingCreateRepo) CreateMessage(ctx context.Context, chatID string, message *entity.Message) (string, error) {
	return "", stderrors.New("unavailable")
}

type failingSummaryRepo struct {
	*repository.MemoryChatRepository
	calls int
}

func (r *failingSummaryRepo) SetSummaryLast(ctx context.Context, chatID string, last *entity.Message) error {
	r.calls++
	return stderrors.New("summary write rejected")
}

type failingBlobStore struct {
	*storage.MemoryStorageClient
	healthy bool
}

func (s *failingBlobStore) Delete(ctx context.Context, path string) error {
	if s.healthy {
		return s.MemoryStorageClient.Delete(ctx, path)
	}
	return stderrors.New("permission denied")
}

func newTestChatSync(t *testing.T) (*ChatSync, *repository.MemoryChatRepository, *storage.MemoryStorageClient) {
	t.Helper()
	repo := repository.NewMemoryChatRepository()
	blobs := storage.NewMemoryStorageClient()
	return NewChatSync(repo, blobs, ChatSyncConfig{PageSize: 3}), repo, blobs
}

func sendText(t *testing.T, cs *ChatSync, chatID, from, to, text string) string {
	t.Helper()
	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID:     chatID,
		SenderID:   from,
		ReceiverID: to,
		Text:       text,
	}, nil)
	require.NoError(t, err)
	return id
}

func uploadAttachment(t *testing.T, blobs *storage.MemoryStorageClient, chatID, name string) *entity.FileData {
	t.Helper()
	file, err := blobs.Upload(context.Background(), strings.NewReader("png-bytes"), "image/png", name, AttachmentFolder(chatID))
	require.NoError(t, err)
	return file
}

func TestGenerateChatID(t *testing.T) {
	ab, err := GenerateChatID(alice, bob)
	require.NoError(t, err)
	ba, err := GenerateChatID(bob, alice)
	require.NoError(t, err)

	assert.Equal(t, "alice_bob", ab)
	assert.Equal(t, ab, ba)

	same, err := GenerateChatID(alice, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice_alice", same)

	_, err = GenerateChatID("", bob)
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	_, err = GenerateChatID("a_b", "c")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestSendMessage_OptimisticThenCommitted(t *testing.T) {
	cs, repo, _ := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)

	var events []SendEvent
	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID:     chatID,
		SenderID:   alice,
		ReceiverID: bob,
		Text:       "  hello  ",
	}, func(e SendEvent) { events = append(events, e) })
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, PhaseOptimistic, events[0].Phase)
	assert.True(t, strings.HasPrefix(events[0].TempID, entity.TempIDPrefix))
	assert.True(t, events[0].Message.IsOptimistic)
	assert.Equal(t, "hello", events[0].Message.Text)
	assert.Equal(t, PhaseCommitted, events[1].Phase)
	assert.Equal(t, events[0].TempID, events[1].TempID)
	assert.Equal(t, id, events[1].ID)

	stored, err := repo.GetMessage(context.Background(), chatID, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Text)
	assert.Equal(t, entity.MessageTypeText, stored.MessageType)
	assert.False(t, stored.IsRead)
	assert.Nil(t, stored.ReadAt)

	summary, err := cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, summary.Users)
	assert.Equal(t, "hello", summary.LastMessage)
	assert.Equal(t, alice, summary.LastSender)
	assert.Equal(t, bob, summary.LastReceiver)
	assert.Equal(t, id, summary.LastMessageID)
	assert.EqualValues(t, 1, summary.Unread[bob])
	assert.EqualValues(t, 0, summary.Unread[alice])
	require.NotNil(t, summary.LastTimestamp)
	assert.True(t, summary.LastTimestamp.Equal(stored.CreatedAt))
}

func TestSendMessage_UnreadCountsEverySend(t *testing.T) {
	cs, _, _ := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)

	for i := 0; i < 5; i++ {
		sendText(t, cs, chatID, alice, bob, fmt.Sprintf("m%d", i))
	}
	sendText(t, cs, chatID, bob, alice, "reply")

	summary, err := cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, summary.Unread[bob])
	assert.EqualValues(t, 1, summary.Unread[alice])
	assert.Equal(t, "reply", summary.LastMessage)
}

func TestSendMessage_Attachment(t *testing.T) {
	cs, repo, blobs := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)
	file := uploadAttachment(t, blobs, chatID, "cat.png")

	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID:     chatID,
		SenderID:   alice,
		ReceiverID: bob,
		File:       file,
	}, nil)
	require.NoError(t, err)

	stored, err := repo.GetMessage(context.Background(), chatID, id)
	require.NoError(t, err)
	assert.Equal(t, entity.MessageTypeImage, stored.MessageType)
	assert.Equal(t, file.DownloadURL, stored.FileURL)
	assert.Equal(t, file.Path, stored.FilePath)
	assert.Empty(t, stored.Text)

	summary, err := cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, entity.ImagePreview, summary.LastMessage)
}

func TestSendMessage_InvalidInputWritesNothing(t *testing.T) {
	cs, repo, _ := newTestChatSync(t)

	cases := []SendMessageInput{
		{ChatID: "", SenderID: alice, ReceiverID: bob, Text: "hi"},
		{ChatID: "alice_bob", SenderID: "", ReceiverID: bob, Text: "hi"},
		{ChatID: "alice_bob", SenderID: alice, ReceiverID: "", Text: "hi"},
		{ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, Text: "   "},
		{ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, File: &entity.FileData{Name: "x.png"}},
	}

	for _, input := range cases {
		called := false
		_, err := cs.SendMessage(context.Background(), input, func(SendEvent) { called = true })
		assert.True(t, errors.Is(err, errors.CodeBadRequest))
		assert.False(t, called)
	}
	assert.Equal(t, 0, repo.Writes())
}

func TestSendMessage_FailureEmitsFailed(t *testing.T) {
	repo := &failingCreateRepo{repository.NewMemoryChatRepository()}
	cs := NewChatSync(repo, storage.NewMemoryStorageClient(), ChatSyncConfig{})

	var events []SendEvent
	_, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID:     "alice_bob",
		SenderID:   alice,
		ReceiverID: bob,
		Text:       "hi",
	}, func(e SendEvent) { events = append(events, e) })
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, PhaseOptimistic, events[0].Phase)
	assert.Equal(t, PhaseFailed, events[1].Phase)
	assert.Equal(t, events[0].TempID, events[1].TempID)
	assert.Error(t, events[1].Err)

	_, err = repo.GetSummary(context.Background(), "alice_bob")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestListenMessages_DeliversAscendingWindow(t *testing.T) {
	cs, _, _ := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)
	for i := 0; i < 4; i++ {
		sendText(t, cs, chatID, alice, bob, fmt.Sprintf("m%d", i))
	}

	pages := make(chan entity.MessagePage, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsubscribe, err := cs.ListenMessages(ctx, chatID, 0, func(page entity.MessagePage, err error) {
		assert.NoError(t, err)
		pages <- page
	})
	require.NoError(t, err)

	first := receivePage(t, pages)
	assert.Equal(t, []string{"m1", "m2", "m3"}, texts(first))
	require.NotNil(t, first.Cursor)
	assert.Equal(t, first.Messages[0].ID, first.Cursor.ID)

	sendText(t, cs, chatID, bob, alice, "m4")
	second := receivePage(t, pages)
	assert.Equal(t, []string{"m2", "m3", "m4"}, texts(second))

	unsubscribe()
	unsubscribe()

	sendText(t, cs, chatID, alice, bob, "after")
	select {
	case page := <-pages:
		t.Fatalf("unexpected delivery after unsubscribe: %v", texts(page))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenMessages_EmptyChat(t *testing.T) {
	cs, _, _ := newTestChatSync(t)

	pages := make(chan entity.MessagePage, 1)
	unsubscribe, err := cs.ListenMessages(context.Background(), "alice_bob", 3, func(page entity.MessagePage, err error) {
		pages <- page
	})
	require.NoError(t, err)
	defer unsubscribe()

	page := receivePage(t, pages)
	assert.Empty(t, page.Messages)
	assert.Nil(t, page.Cursor)

	_, err = cs.ListenMessages(context.Background(), "", 3, func(entity.MessagePage, error) {})
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestLoadMoreMessages_WalksHistoryWithoutGaps(t *testing.T) {
	cs, _, _ := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)

	var want []string
	for i := 0; i < 7; i++ {
		text := fmt.Sprintf("m%d", i)
		want = append(want, text)
		sendText(t, cs, chatID, alice, bob, text)
	}

	page, err := cs.LatestMessages(context.Background(), chatID, 0)
	require.NoError(t, err)
	got := texts(page)

	for page.Cursor != nil {
		page, err = cs.LoadMoreMessages(context.Background(), chatID, page.Cursor, 0)
		require.NoError(t, err)
		got = append(texts(page), got...)
	}

	assert.Equal(t, want, got)
	assert.Empty(t, page.Messages)
}

func TestLoadMoreMessages_MissingInputs(t *testing.T) {
	cs, repo, _ := newTestChatSync(t)

	page, err := cs.LoadMoreMessages(context.Background(), "", &entity.Cursor{ID: "x", CreatedAt: time.Now()}, 3)
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.Nil(t, page.Cursor)

	page, err = cs.LoadMoreMessages(context.Background(), "alice_bob", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Nil(t, page.Cursor)
	assert.Equal(t, 0, repo.Writes())
}

func TestMarkMessagesAsRead(t *testing.T) {
	cs, repo, _ := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)

	for i := 0; i < 3; i++ {
		sendText(t, cs, chatID, alice, bob, fmt.Sprintf("m%d", i))
	}
	toAlice := sendText(t, cs, chatID, bob, alice, "reply")

	count, err := cs.MarkMessagesAsRead(context.Background(), chatID, bob)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	summary, err := cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.Unread[bob])
	assert.EqualValues(t, 1, summary.Unread[alice])
	assert.Contains(t, summary.SeenAt, bob)

	all, err := repo.ListAllMessages(context.Background(), chatID)
	require.NoError(t, err)
	for _, m := range all {
		if m.ReceiverID == bob {
			assert.True(t, m.IsRead)
			assert.NotNil(t, m.ReadAt)
		}
	}
	reply, err := repo.GetMessage(context.Background(), chatID, toAlice)
	require.NoError(t, err)
	assert.False(t, reply.IsRead)

	writes := repo.Writes()
	count, err = cs.MarkMessagesAsRead(context.Background(), chatID, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, writes, repo.Writes())

	_, err = cs.MarkMessagesAsRead(context.Background(), chatID, "")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestDeleteMessage_RecomputesPreview(t *testing.T) {
	cs, _, _ := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)

	firstID := sendText(t, cs, chatID, alice, bob, "first")
	lastID := sendText(t, cs, chatID, bob, alice, "second")

	require.NoError(t, cs.DeleteMessage(context.Background(), chatID, lastID))

	summary, err := cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "first", summary.LastMessage)
	assert.Equal(t, firstID, summary.LastMessageID)
	assert.Equal(t, alice, summary.LastSender)
	assert.EqualValues(t, 1, summary.Unread[alice], "unread counters are not touched by single deletes")
	assert.EqualValues(t, 1, summary.Unread[bob])

	require.NoError(t, cs.DeleteMessage(context.Background(), chatID, firstID))

	summary, err = cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.Empty(t, summary.LastMessage)
	assert.Empty(t, summary.LastSender)
	assert.Empty(t, summary.LastReceiver)
	assert.Empty(t, summary.LastMessageID)
	assert.Nil(t, summary.LastTimestamp)
}

func TestDeleteMessage_NotFound(t *testing.T) {
	cs, _, _ := newTestChatSync(t)

	err := cs.DeleteMessage(context.Background(), "alice_bob", "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	err = cs.DeleteMessage(context.Background(), "alice_bob", "")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestDeleteMessage_RemovesAttachment(t *testing.T) {
	cs, _, blobs := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)
	file := uploadAttachment(t, blobs, chatID, "cat.png")

	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: chatID, SenderID: alice, ReceiverID: bob, File: file,
	}, nil)
	require.NoError(t, err)
	require.True(t, blobs.Exists(file.Path))

	require.NoError(t, cs.DeleteMessage(context.Background(), chatID, id))
	assert.False(t, blobs.Exists(file.Path))
}

func TestDeleteMessage_AttachmentFromURLOnly(t *testing.T) {
	cs, repo, blobs := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)
	file := uploadAttachment(t, blobs, chatID, "legacy.png")

	// Older messages carry only the download URL.
	id, err := repo.CreateMessage(context.Background(), chatID, &entity.Message{
		SenderID: alice, ReceiverID: bob, MessageType: entity.MessageTypeImage, FileURL: file.DownloadURL,
	})
	require.NoError(t, err)

	require.NoError(t, cs.DeleteMessage(context.Background(), chatID, id))
	assert.False(t, blobs.Exists(file.Path))
}

func TestSendMessage_RejectsAttachmentOfAnotherChat(t *testing.T) {
	cs, repo, blobs := newTestChatSync(t)
	victim := uploadAttachment(t, blobs, "alice_bob", "private.png")
	own := uploadAttachment(t, blobs, "mallory_zed", "own.png")

	tests := []struct {
		name string
		file *entity.FileData
		code string
	}{
		{"foreign upload", victim, errors.CodeForbidden},
		{"path swapped under own URL", &entity.FileData{DownloadURL: own.DownloadURL, Name: "x.png", Type: "image/png", Path: victim.Path}, errors.CodeBadRequest},
		{"URL outside the store", &entity.FileData{DownloadURL: "https://example.com/x.png", Name: "x.png", Type: "image/png"}, errors.CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cs.SendMessage(context.Background(), SendMessageInput{
				ChatID: "mallory_zed", SenderID: "mallory", ReceiverID: "zed", File: tt.file,
			}, nil)
			assert.True(t, errors.Is(err, tt.code), err)
		})
	}
	assert.Zero(t, repo.Writes())
	assert.True(t, blobs.Exists(victim.Path))
}

func TestSendMessage_LedgerGuardsAttachments(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	blobs := storage.NewMemoryStorageClient()
	attachments := repository.NewMemoryAttachmentRepository()
	cs := NewChatSync(repo, blobs, ChatSyncConfig{Attachments: attachments})

	unrecorded := uploadAttachment(t, blobs, "alice_bob", "a.png")
	_, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, File: unrecorded,
	}, nil)
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	// Chat ids that sanitize to the same folder still differ in the ledger.
	other := uploadAttachment(t, blobs, "alice.bob", "b.png")
	require.NoError(t, cs.RecordAttachment(context.Background(), "alice.bob", alice, other))
	_, err = cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice-bob", SenderID: alice, ReceiverID: bob, File: other,
	}, nil)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	recorded := uploadAttachment(t, blobs, "alice_bob", "c.png")
	require.NoError(t, cs.RecordAttachment(context.Background(), "alice_bob", alice, recorded))
	_, err = cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, File: recorded,
	}, nil)
	assert.NoError(t, err)
}

func TestDeleteMessage_LeavesAttachmentOutsideChat(t *testing.T) {
	cs, repo, blobs := newTestChatSync(t)
	victim := uploadAttachment(t, blobs, "alice_bob", "private.png")

	id, err := repo.CreateMessage(context.Background(), "mallory_zed", &entity.Message{
		SenderID: "mallory", ReceiverID: "zed", MessageType: entity.MessageTypeImage,
		FileURL: victim.DownloadURL, FilePath: victim.Path,
	})
	require.NoError(t, err)

	require.NoError(t, cs.DeleteMessage(context.Background(), "mallory_zed", id))
	assert.True(t, blobs.Exists(victim.Path))

	_, err = repo.GetMessage(context.Background(), "mallory_zed", id)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestSendMessage_MembersMustMatchChat(t *testing.T) {
	cs, repo, _ := newTestChatSync(t)

	_, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice_bob", SenderID: alice, ReceiverID: "carol", Text: "join us",
	}, nil)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.Zero(t, repo.Writes())

	ok, err := cs.IsParticipant(context.Background(), "alice_bob", "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	sendText(t, cs, "group-1", alice, bob, "hi")
	sendText(t, cs, "group-1", bob, alice, "hey")
	_, err = cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "group-1", SenderID: bob, ReceiverID: "carol", Text: "psst",
	}, nil)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	ok, err = cs.IsParticipant(context.Background(), "group-1", "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMessage_BlobFailureIsSwallowed(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	blobs := &failingBlobStore{MemoryStorageClient: storage.NewMemoryStorageClient()}

	var mu sync.Mutex
	var reported []string
	cs := NewChatSync(repo, blobs, ChatSyncConfig{
		OnBlobDeleteError: func(ctx context.Context, chatID, messageID, path string, err error) {
			mu.Lock()
			reported = append(reported, messageID)
			mu.Unlock()
		},
	})

	file := uploadAttachment(t, blobs.MemoryStorageClient, "alice_bob", "cat.png")
	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, File: file,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, cs.DeleteMessage(context.Background(), "alice_bob", id))
	assert.Equal(t, []string{id}, reported)

	_, err = repo.GetMessage(context.Background(), "alice_bob", id)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestOrphanedAttachmentsAreRetried(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	attachments := repository.NewMemoryAttachmentRepository()
	blobs := &failingBlobStore{MemoryStorageClient: storage.NewMemoryStorageClient()}
	cs := NewChatSync(repo, blobs, ChatSyncConfig{Attachments: attachments})

	file := uploadAttachment(t, blobs.MemoryStorageClient, "alice_bob", "cat.png")
	require.NoError(t, cs.RecordAttachment(context.Background(), "alice_bob", alice, file))

	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, File: file,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, cs.DeleteMessage(context.Background(), "alice_bob", id))

	orphans, err := attachments.ListOrphaned(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, file.Path, orphans[0].Path)
	assert.Equal(t, id, orphans[0].MessageID)
	assert.Equal(t, alice, orphans[0].UploadedBy)

	cleaned, err := cs.CleanupOrphanedAttachments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
	orphans, _ = attachments.ListOrphaned(context.Background(), 10)
	require.Len(t, orphans, 1)
	assert.Equal(t, 2, orphans[0].Attempts)

	blobs.healthy = true
	cleaned, err = cs.CleanupOrphanedAttachments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.False(t, blobs.Exists(file.Path))

	_, err = attachments.GetByPath(context.Background(), file.Path)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestDeleteMessage_SummaryStale(t *testing.T) {
	repo := &failingSummaryRepo{MemoryChatRepository: repository.NewMemoryChatRepository()}
	cs := NewChatSync(repo, storage.NewMemoryStorageClient(), ChatSyncConfig{
		SummaryAttempts: 3,
		SummaryBackoff:  gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
	})

	id, err := cs.SendMessage(context.Background(), SendMessageInput{
		ChatID: "alice_bob", SenderID: alice, ReceiverID: bob, Text: "hi",
	}, nil)
	require.NoError(t, err)

	err = cs.DeleteMessage(context.Background(), "alice_bob", id)
	assert.True(t, errors.Is(err, errors.CodeSummaryStale))
	assert.Equal(t, 3, repo.calls)

	_, err = repo.GetMessage(context.Background(), "alice_bob", id)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestDeleteAllMessages(t *testing.T) {
	cs, repo, blobs := newTestChatSync(t)
	chatID, _ := GenerateChatID(alice, bob)

	var paths []string
	for i := 0; i < 3; i++ {
		file := uploadAttachment(t, blobs, chatID, fmt.Sprintf("p%d.png", i))
		paths = append(paths, file.Path)
		_, err := cs.SendMessage(context.Background(), SendMessageInput{
			ChatID: chatID, SenderID: alice, ReceiverID: bob, File: file,
		}, nil)
		require.NoError(t, err)
	}
	sendText(t, cs, chatID, bob, alice, "text")

	count, err := cs.DeleteAllMessages(context.Background(), chatID, alice)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	for _, p := range paths {
		assert.False(t, blobs.Exists(p))
	}

	remaining, err := repo.ListAllMessages(context.Background(), chatID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	summary, err := cs.GetSummary(context.Background(), chatID)
	require.NoError(t, err)
	assert.Empty(t, summary.LastMessage)
	assert.Empty(t, summary.LastMessageID)
	assert.EqualValues(t, 0, summary.Unread[alice])
	assert.EqualValues(t, 0, summary.Unread[bob])
	require.NotNil(t, summary.LastTimestamp)
}

func TestDeleteAllMessages_EmptyChat(t *testing.T) {
	cs, _, _ := newTestChatSync(t)

	count, err := cs.DeleteAllMessages(context.Background(), "alice_bob", alice)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	summary, err := cs.GetSummary(context.Background(), "alice_bob")
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.Unread[alice])

	_, err = cs.DeleteAllMessages(context.Background(), "alice_bob", "")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestListenSummaries(t *testing.T) {
	cs, _, _ := newTestChatSync(t)

	lists := make(chan []*entity.ChatSummary, 8)
	unsubscribe, err := cs.ListenSummaries(context.Background(), bob, func(summaries []*entity.ChatSummary, err error) {
		assert.NoError(t, err)
		lists <- summaries
	})
	require.NoError(t, err)
	defer unsubscribe()

	assert.Empty(t, receiveSummaries(t, lists))

	sendText(t, cs, "alice_bob", alice, bob, "hi")
	got := receiveSummaries(t, lists)
	require.Len(t, got, 1)
	assert.Equal(t, "alice_bob", got[0].ChatID)
	assert.EqualValues(t, 1, got[0].Unread[bob])
}

func TestIsParticipant(t *testing.T) {
	cs, _, _ := newTestChatSync(t)
	sendText(t, cs, "group-1", alice, bob, "hi")

	ok, err := cs.IsParticipant(context.Background(), "alice_bob", alice)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cs.IsParticipant(context.Background(), "alice_bob", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cs.IsParticipant(context.Background(), "group-1", bob)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cs.IsParticipant(context.Background(), "group-2", bob)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cs.IsParticipant(context.Background(), "a_b_c", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func receivePage(t *testing.T, pages <-chan entity.MessagePage) entity.MessagePage {
	t.Helper()
	select {
	case page := <-pages:
		return page
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for page")
		return entity.MessagePage{}
	}
}

func receiveSummaries(t *testing.T, lists <-chan []*entity.ChatSummary) []*entity.ChatSummary {
	t.Helper()
	select {
	case list := <-lists:
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for summaries")
		return nil
	}
}

func texts(page entity.MessagePage) []string {
	out := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		out = append(out, m.Text)
	}
	return out
}
