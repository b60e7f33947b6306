package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gax "github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/internal/domain/service"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const (
	DefaultPageSize          = 30
	AttachmentRoot           = "chat-attachments"
	chatIDSeparator          = "_"
	defaultBlobDeleteWorkers = 4
	defaultSummaryAttempts   = 3
)

// BlobDeleteHook is told about attachments that could not be removed. The
// message itself is still deleted.
type BlobDeleteHook func(ctx context.Context, chatID, messageID, path string, err error)

type ChatSyncConfig struct {
	PageSize          int
	BlobDeleteWorkers int
	OnBlobDeleteError BlobDeleteHook
	// Attachments, when set, tracks uploads and orphaned blobs.
	Attachments repository.AttachmentRepository

	// SummaryAttempts bounds the summary recompute after a single delete.
	SummaryAttempts int
	SummaryBackoff  gax.Backoff
}

type ChatSync struct {
	chatRepo  repository.ChatRepository
	blobStore service.BlobStore
	cfg       ChatSyncConfig
	now       func() time.Time
}

func NewChatSync(chatRepo repository.ChatRepository, blobStore service.BlobStore, cfg ChatSyncConfig) *ChatSync {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.BlobDeleteWorkers <= 0 {
		cfg.BlobDeleteWorkers = defaultBlobDeleteWorkers
	}
	if cfg.SummaryAttempts <= 0 {
		cfg.SummaryAttempts = defaultSummaryAttempts
	}
	if cfg.SummaryBackoff.Initial == 0 {
		cfg.SummaryBackoff = gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		}
	}

	return &ChatSync{
		chatRepo:  chatRepo,
		blobStore: blobStore,
		cfg:       cfg,
		now:       time.Now,
	}
}

// GenerateChatID returns the canonical id of the 1:1 chat between two users.
// The result does not depend on argument order.
func GenerateChatID(userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", errors.BadRequest("both user ids are required", nil)
	}
	if strings.Contains(userA, chatIDSeparator) || strings.Contains(userB, chatIDSeparator) {
		return "", errors.BadRequest("user ids must not contain "+chatIDSeparator, nil)
	}
	if userA < userB {
		return userA + chatIDSeparator + userB, nil
	}
	return userB + chatIDSeparator + userA, nil
}

// directMembers splits a 1:1 chat id into its two user ids.
func directMembers(chatID string) (string, string, bool) {
	parts := strings.Split(chatID, chatIDSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// AttachmentFolder is the blob folder that holds every upload of chatID.
func AttachmentFolder(chatID string) string {
	var b strings.Builder
	b.WriteString(AttachmentRoot + "/")
	for _, r := range chatID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func inAttachmentFolder(chatID, path string) bool {
	return strings.HasPrefix(path, AttachmentFolder(chatID)+"/")
}

type SendMessageInput struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Text       string
	File       *entity.FileData
}

type SendPhase string

const (
	PhaseOptimistic SendPhase = "optimistic"
	PhaseCommitted  SendPhase = "committed"
	PhaseFailed     SendPhase = "failed"
)

// SendEvent reports the progress of one send. Every send that gets past
// validation emits PhaseOptimistic first and then exactly one of
// PhaseCommitted or PhaseFailed, all carrying the same TempID.
type SendEvent struct {
	Phase   SendPhase       `json:"phase"`
	TempID  string          `json:"temp_id"`
	ID      string          `json:"id,omitempty"`
	Message *entity.Message `json:"message,omitempty"`
	Err     error           `json:"-"`
}

// NewTempID builds a client-side placeholder id, never stored.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", entity.TempIDPrefix, now.UnixMilli(), uuid.NewString()[:8])
}

// SendMessage stores a message and bumps the chat summary in one atomic
// write. onEvent may be nil.
func (s *ChatSync) SendMessage(ctx context.Context, input SendMessageInput, onEvent func(SendEvent)) (string, error) {
	if input.ChatID == "" || input.SenderID == "" || input.ReceiverID == "" {
		logger.Warn("SendMessage rejected: chat %q sender %q receiver %q", input.ChatID, input.SenderID, input.ReceiverID)
		return "", errors.BadRequest("chat id, sender id and receiver id are required", nil)
	}

	if err := s.checkMembers(ctx, input.ChatID, input.SenderID, input.ReceiverID); err != nil {
		return "", err
	}

	message := &entity.Message{
		ChatID:     input.ChatID,
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
	}

	text := strings.TrimSpace(input.Text)
	switch {
	case input.File != nil:
		if input.File.DownloadURL == "" {
			logger.Warn("SendMessage rejected: attachment without download URL in chat %s", input.ChatID)
			return "", errors.BadRequest("attachment download URL is required", nil)
		}
		path, err := s.resolveAttachment(ctx, input.ChatID, input.File)
		if err != nil {
			return "", err
		}
		message.MessageType = entity.MessageTypeImage
		message.FileURL = input.File.DownloadURL
		message.FileName = input.File.Name
		message.FileType = input.File.Type
		message.FileSize = input.File.Size
		message.FilePath = path
	case text != "":
		message.MessageType = entity.MessageTypeText
		message.Text = text
	default:
		logger.Warn("SendMessage rejected: empty message in chat %s from %s", input.ChatID, input.SenderID)
		return "", errors.BadRequest("message text or attachment is required", nil)
	}

	emit := func(SendEvent) {}
	if onEvent != nil {
		emit = onEvent
	}

	now := s.now()
	tempID := NewTempID(now)
	optimistic := *message
	optimistic.ID = tempID
	optimistic.CreatedAt = now.UTC()
	optimistic.IsOptimistic = true
	emit(SendEvent{Phase: PhaseOptimistic, TempID: tempID, Message: &optimistic})

	id, err := s.chatRepo.CreateMessage(ctx, input.ChatID, message)
	if err != nil {
		logger.Error("SendMessage failed in chat %s (temp %s): %v", input.ChatID, tempID, err)
		emit(SendEvent{Phase: PhaseFailed, TempID: tempID, Message: &optimistic, Err: err})
		return "", err
	}

	logger.Debug("SendMessage committed %s in chat %s", id, input.ChatID)
	emit(SendEvent{Phase: PhaseCommitted, TempID: tempID, ID: id})
	return id, nil
}

func (s *ChatSync) pageSize(n int) int {
	if n <= 0 {
		return s.cfg.PageSize
	}
	return n
}

// ascendingPage turns a newest-first window into an oldest-first page whose
// cursor points at the oldest message.
func ascendingPage(newestFirst []*entity.Message) entity.MessagePage {
	messages := make([]*entity.Message, len(newestFirst))
	for i, m := range newestFirst {
		messages[len(newestFirst)-1-i] = m
	}

	page := entity.MessagePage{Messages: messages}
	if len(messages) > 0 {
		page.Cursor = messages[0].Cursor()
	}
	return page
}

// checkMembers keeps the summary's user list honest: a 1:1 chat only takes
// messages between its two owners, and an existing group chat only between
// users it already knows.
func (s *ChatSync) checkMembers(ctx context.Context, chatID, senderID, receiverID string) error {
	if a, b, ok := directMembers(chatID); ok {
		if (senderID == a && receiverID == b) || (senderID == b && receiverID == a) {
			return nil
		}
		logger.Warn("SendMessage rejected: %s -> %s does not match chat %s", senderID, receiverID, chatID)
		return errors.Forbidden("sender and receiver must be the members of this chat", nil)
	}

	summary, err := s.chatRepo.GetSummary(ctx, chatID)
	if errors.Is(err, errors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	members := summary.Participants()
	if !contains(members, senderID) || !contains(members, receiverID) {
		logger.Warn("SendMessage rejected: %s -> %s outside group chat %s", senderID, receiverID, chatID)
		return errors.Forbidden("sender and receiver must be the members of this chat", nil)
	}
	return nil
}

// resolveAttachment returns the canonical blob path of an uploaded file. The
// path is derived from the download URL and must live in the chat's folder;
// with a ledger configured the upload must also be recorded for this chat.
func (s *ChatSync) resolveAttachment(ctx context.Context, chatID string, file *entity.FileData) (string, error) {
	path, err := s.blobStore.PathFromURL(file.DownloadURL)
	if err != nil {
		logger.Warn("SendMessage rejected: attachment URL %q: %v", file.DownloadURL, err)
		return "", errors.BadRequest("attachment URL is not served by the blob store", err)
	}
	if file.Path != "" && file.Path != path {
		return "", errors.BadRequest("attachment path does not match its URL", nil)
	}
	if !inAttachmentFolder(chatID, path) {
		logger.Warn("SendMessage rejected: attachment %q is outside chat %s", path, chatID)
		return "", errors.Forbidden("attachment belongs to another chat", nil)
	}

	if s.cfg.Attachments == nil {
		return path, nil
	}
	recorded, err := s.cfg.Attachments.GetByPath(ctx, path)
	if errors.Is(err, errors.CodeNotFound) {
		return "", errors.BadRequest("attachment was not uploaded", nil)
	}
	if err != nil {
		return "", err
	}
	if recorded.ChatID != chatID || recorded.URL != file.DownloadURL {
		logger.Warn("SendMessage rejected: attachment %q is recorded for chat %s", path, recorded.ChatID)
		return "", errors.Forbidden("attachment belongs to another chat", nil)
	}
	return path, nil
}

// ListenMessages pushes the latest pageSize messages of the chat, oldest
// first, on subscribe and on every change. The returned function stops the
// subscription and may be called more than once.
func (s *ChatSync) ListenMessages(ctx context.Context, chatID string, pageSize int, fn func(entity.MessagePage, error)) (func(), error) {
	if chatID == "" {
		logger.Warn("ListenMessages rejected: empty chat id")
		return nil, errors.BadRequest("chat id is required", nil)
	}
	if fn == nil {
		return nil, errors.BadRequest("listener is required", nil)
	}

	stop, err := s.chatRepo.ListenMessages(ctx, chatID, s.pageSize(pageSize), func(messages []*entity.Message, err error) {
		if err != nil {
			logger.Error("ListenMessages on chat %s ended: %v", chatID, err)
			fn(entity.MessagePage{}, err)
			return
		}
		fn(ascendingPage(messages), nil)
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(stop) }, nil
}

// LatestMessages returns the newest page of a chat without subscribing.
func (s *ChatSync) LatestMessages(ctx context.Context, chatID string, pageSize int) (entity.MessagePage, error) {
	if chatID == "" {
		logger.Warn("LatestMessages rejected: empty chat id")
		return entity.MessagePage{}, errors.BadRequest("chat id is required", nil)
	}

	messages, err := s.chatRepo.ListMessages(ctx, chatID, nil, s.pageSize(pageSize))
	if err != nil {
		return entity.MessagePage{}, err
	}
	return ascendingPage(messages), nil
}

// LoadMoreMessages returns the page strictly older than cursor. A missing
// chat id or cursor yields an empty page with a nil cursor.
func (s *ChatSync) LoadMoreMessages(ctx context.Context, chatID string, cursor *entity.Cursor, pageSize int) (entity.MessagePage, error) {
	if chatID == "" || cursor == nil {
		return entity.MessagePage{Messages: []*entity.Message{}}, nil
	}

	messages, err := s.chatRepo.ListMessages(ctx, chatID, cursor, s.pageSize(pageSize))
	if err != nil {
		logger.Error("LoadMoreMessages failed for chat %s: %v", chatID, err)
		return entity.MessagePage{}, err
	}
	return ascendingPage(messages), nil
}

// MarkMessagesAsRead marks every unread message addressed to userID as read
// and clears the user's unread counter. It returns how many messages
// changed; zero means nothing was written.
func (s *ChatSync) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	if chatID == "" || userID == "" {
		logger.Warn("MarkMessagesAsRead rejected: chat %q user %q", chatID, userID)
		return 0, errors.BadRequest("chat id and user id are required", nil)
	}

	ids, err := s.chatRepo.ListUnreadMessageIDs(ctx, chatID, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.chatRepo.MarkMessagesRead(ctx, chatID, userID, ids); err != nil {
		logger.Error("MarkMessagesAsRead failed for chat %s user %s: %v", chatID, userID, err)
		return 0, err
	}
	return len(ids), nil
}

// DeleteMessage removes one message and its attachment, then rebuilds the
// summary preview from whatever is now the newest message. Unread counters
// are left alone. A summary that could not be rebuilt is reported as
// SUMMARY_STALE; the message stays deleted.
func (s *ChatSync) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if chatID == "" || messageID == "" {
		logger.Warn("DeleteMessage rejected: chat %q message %q", chatID, messageID)
		return errors.BadRequest("chat id and message id are required", nil)
	}

	message, err := s.chatRepo.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}

	if message.HasAttachment() {
		s.deleteAttachment(ctx, chatID, message)
	}

	if err := s.chatRepo.DeleteMessage(ctx, chatID, messageID); err != nil {
		logger.Error("DeleteMessage failed for %s in chat %s: %v", messageID, chatID, err)
		return err
	}

	if err := s.recomputeSummary(ctx, chatID); err != nil {
		logger.Error("Summary of chat %s is stale after deleting %s: %v", chatID, messageID, err)
		return errors.SummaryStale(chatID, err)
	}
	return nil
}

func (s *ChatSync) recomputeSummary(ctx context.Context, chatID string) error {
	bo := s.cfg.SummaryBackoff

	var err error
	for attempt := 1; attempt <= s.cfg.SummaryAttempts; attempt++ {
		if attempt > 1 {
			if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
				return err
			}
		}

		var latest []*entity.Message
		latest, err = s.chatRepo.ListMessages(ctx, chatID, nil, 1)
		if err == nil {
			var last *entity.Message
			if len(latest) > 0 {
				last = latest[0]
			}
			err = s.chatRepo.SetSummaryLast(ctx, chatID, last)
		}
		if err == nil {
			return nil
		}
		logger.Warn("Summary recompute attempt %d for chat %s failed: %v", attempt, chatID, err)
	}
	return err
}

// deleteAttachment is best effort: failures go to the log and the hook.
func (s *ChatSync) deleteAttachment(ctx context.Context, chatID string, message *entity.Message) {
	path := message.FilePath
	var err error
	if path == "" {
		path, err = s.blobStore.PathFromURL(message.FileURL)
	}
	if err == nil && !inAttachmentFolder(chatID, path) {
		logger.Warn("Attachment %q of message %s is outside chat %s; leaving it", path, message.ID, chatID)
		return
	}
	if err == nil {
		err = s.blobStore.Delete(ctx, path)
	}

	if stderrors.Is(err, service.ErrBlobNotFound) {
		logger.Debug("Attachment %q of message %s already gone", path, message.ID)
		err = nil
	}
	if err != nil {
		logger.Warn("Attachment delete failed for message %s in chat %s (path %q): %v", message.ID, chatID, path, err)
		if s.cfg.Attachments != nil && path != "" {
			if merr := s.cfg.Attachments.MarkOrphaned(ctx, chatID, message.ID, path, err); merr != nil {
				logger.Error("Failed to record orphaned attachment %q: %v", path, merr)
			}
		}
		if s.cfg.OnBlobDeleteError != nil {
			s.cfg.OnBlobDeleteError(ctx, chatID, message.ID, path, err)
		}
		return
	}

	s.forgetAttachment(ctx, path)
}

func (s *ChatSync) forgetAttachment(ctx context.Context, path string) {
	if s.cfg.Attachments == nil {
		return
	}
	if err := s.cfg.Attachments.DeleteByPath(ctx, path); err != nil && !errors.Is(err, errors.CodeNotFound) {
		logger.Warn("Failed to drop attachment record %q: %v", path, err)
	}
}

// RecordAttachment adds a fresh upload to the attachment ledger.
func (s *ChatSync) RecordAttachment(ctx context.Context, chatID, uploadedBy string, file *entity.FileData) error {
	if s.cfg.Attachments == nil || file == nil {
		return nil
	}
	return s.cfg.Attachments.Create(ctx, &entity.Attachment{
		ChatID:     chatID,
		Path:       file.Path,
		URL:        file.DownloadURL,
		UploadedBy: uploadedBy,
		FileName:   file.Name,
		FileType:   file.Type,
		FileSize:   file.Size,
	})
}

// CleanupOrphanedAttachments retries the blob delete of up to limit orphaned
// attachments and returns how many are now gone.
func (s *ChatSync) CleanupOrphanedAttachments(ctx context.Context, limit int) (int, error) {
	if s.cfg.Attachments == nil {
		return 0, nil
	}

	orphans, err := s.cfg.Attachments.ListOrphaned(ctx, limit)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, orphan := range orphans {
		err := s.blobStore.Delete(ctx, orphan.Path)
		if err != nil && !stderrors.Is(err, service.ErrBlobNotFound) {
			logger.Warn("Orphaned attachment %q still not deletable: %v", orphan.Path, err)
			if merr := s.cfg.Attachments.MarkOrphaned(ctx, orphan.ChatID, orphan.MessageID, orphan.Path, err); merr != nil {
				logger.Error("Failed to update orphaned attachment %q: %v", orphan.Path, merr)
			}
			continue
		}
		s.forgetAttachment(ctx, orphan.Path)
		cleaned++
	}

	if cleaned > 0 {
		logger.Info("Cleaned up %d orphaned attachments", cleaned)
	}
	return cleaned, nil
}

// DeleteAllMessages empties a chat: every attachment, every message and
// every unread counter on its summary, plus the caller's. It returns the
// number of messages removed.
func (s *ChatSync) DeleteAllMessages(ctx context.Context, chatID, userID string) (int, error) {
	if chatID == "" || userID == "" {
		logger.Warn("DeleteAllMessages rejected: chat %q user %q", chatID, userID)
		return 0, errors.BadRequest("chat id and user id are required", nil)
	}

	clearFor := []string{userID}
	summary, err := s.chatRepo.GetSummary(ctx, chatID)
	switch {
	case err == nil:
		clearFor = appendUnique(summary.Participants(), userID)
	case errors.Is(err, errors.CodeNotFound):
	default:
		return 0, err
	}

	messages, err := s.chatRepo.ListAllMessages(ctx, chatID)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.BlobDeleteWorkers)
	for _, message := range messages {
		if !message.HasAttachment() {
			continue
		}
		message := message
		g.Go(func() error {
			s.deleteAttachment(ctx, chatID, message)
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}

	if err := s.chatRepo.DeleteMessages(ctx, chatID, ids, clearFor); err != nil {
		logger.Error("DeleteAllMessages failed for chat %s: %v", chatID, err)
		return 0, err
	}

	logger.Info("Deleted %d messages from chat %s for user %s", len(ids), chatID, userID)
	return len(ids), nil
}

func (s *ChatSync) GetSummary(ctx context.Context, chatID string) (*entity.ChatSummary, error) {
	if chatID == "" {
		return nil, errors.BadRequest("chat id is required", nil)
	}
	return s.chatRepo.GetSummary(ctx, chatID)
}

// ListenSummaries pushes the chat list of userID, most recent first.
func (s *ChatSync) ListenSummaries(ctx context.Context, userID string, fn func([]*entity.ChatSummary, error)) (func(), error) {
	if userID == "" {
		logger.Warn("ListenSummaries rejected: empty user id")
		return nil, errors.BadRequest("user id is required", nil)
	}
	if fn == nil {
		return nil, errors.BadRequest("listener is required", nil)
	}

	stop, err := s.chatRepo.ListenSummaries(ctx, userID, repository.SummaryListener(fn))
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(stop) }, nil
}

// IsParticipant reports whether userID may read and write chatID. A 1:1 id
// names its members; any other chat is known by its summary.
func (s *ChatSync) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	if chatID == "" || userID == "" {
		return false, nil
	}
	if a, b, ok := directMembers(chatID); ok {
		return userID == a || userID == b, nil
	}

	summary, err := s.chatRepo.GetSummary(ctx, chatID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return contains(summary.Participants(), userID), nil
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func appendUnique(ids []string, id string) []string {
	if contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
