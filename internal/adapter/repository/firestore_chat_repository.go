package repository

import (
	"context"
	stderrors "errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const (
	chatsCollection     = "chats"
	messagesCollection  = "messages"
	summariesCollection = "chatSummaries"

	// Firestore caps a single commit at 500 writes.
	maxWritesPerCommit = 500
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) messages(chatID string) *firestore.CollectionRef {
	return r.client.Collection(chatsCollection).Doc(chatID).Collection(messagesCollection)
}

func (r *firestoreChatRepository) summary(chatID string) *firestore.DocumentRef {
	return r.client.Collection(summariesCollection).Doc(chatID)
}

// newestFirst orders by server timestamp with the document id as tie breaker
// so a (createdAt, id) cursor is a total position.
func (r *firestoreChatRepository) newestFirst(chatID string) firestore.Query {
	return r.messages(chatID).OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
}

func encodeMessage(m *entity.Message) map[string]interface{} {
	data := map[string]interface{}{
		"senderId":    m.SenderID,
		"receiverId":  m.ReceiverID,
		"messageType": m.MessageType,
		"createdAt":   firestore.ServerTimestamp,
		"isRead":      false,
		"readAt":      nil,
	}

	if m.MessageType == entity.MessageTypeImage {
		data["fileUrl"] = m.FileURL
		data["fileName"] = m.FileName
		data["fileType"] = m.FileType
		data["fileSize"] = m.FileSize
		if m.FilePath != "" {
			data["filePath"] = m.FilePath
		}
	} else {
		data["text"] = m.Text
	}

	return data
}

func decodeMessage(chatID string, doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, err
	}
	message.ID = doc.Ref.ID
	message.ChatID = chatID
	message.CreatedAt = message.CreatedAt.UTC()
	return &message, nil
}

func decodeMessages(chatID string, docs []*firestore.DocumentSnapshot) ([]*entity.Message, error) {
	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		message, err := decodeMessage(chatID, doc)
		if err != nil {
			logger.Error("Error parsing message %s in chat %s: %v", doc.Ref.ID, chatID, err)
			return nil, errors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (r *firestoreChatRepository) CreateMessage(ctx context.Context, chatID string, message *entity.Message) (string, error) {
	ref := r.messages(chatID).NewDoc()

	summary := map[string]interface{}{
		"users":                                []string{message.SenderID, message.ReceiverID},
		"lastMessage":                          message.Preview(),
		"lastSender":                           message.SenderID,
		"lastReceiver":                         message.ReceiverID,
		"lastMessageId":                        ref.ID,
		"lastTimestamp":                        firestore.ServerTimestamp,
		entity.UnreadField(message.ReceiverID): firestore.Increment(1),
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(ref, encodeMessage(message)); err != nil {
			return err
		}
		return tx.Set(r.summary(chatID), summary, firestore.MergeAll)
	})
	if err != nil {
		logger.Error("Firestore error while creating message in chat %s: %v", chatID, err)
		return "", errors.Internal("Failed to create message", err)
	}

	return ref.ID, nil
}

func (r *firestoreChatRepository) GetMessage(ctx context.Context, chatID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(chatID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.Internal("Failed to get message", err)
	}

	message, err := decodeMessage(chatID, doc)
	if err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	return message, nil
}

func (r *firestoreChatRepository) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	_, err := r.messages(chatID).Doc(messageID).Delete(ctx)
	if err != nil {
		return errors.Internal("Failed to delete message", err)
	}
	return nil
}

func (r *firestoreChatRepository) ListMessages(ctx context.Context, chatID string, before *entity.Cursor, limit int) ([]*entity.Message, error) {
	query := r.newestFirst(chatID)
	if before != nil {
		query = query.StartAfter(before.CreatedAt, before.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while listing messages for chat %s: %v", chatID, err)
		return nil, errors.Internal("Failed to list messages", err)
	}

	return decodeMessages(chatID, docs)
}

func (r *firestoreChatRepository) ListAllMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	iter := r.messages(chatID).Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for chat %s: %v", chatID, err)
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		message, err := decodeMessage(chatID, doc)
		if err != nil {
			return nil, errors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, message)
	}

	return messages, nil
}

func (r *firestoreChatRepository) ListenMessages(ctx context.Context, chatID string, limit int, fn repository.MessageListener) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	snapshots := r.newestFirst(chatID).Limit(limit).Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if listenerClosed(ctx, err) {
					return
				}
				logger.Error("Message listener for chat %s failed: %v", chatID, err)
				fn(nil, errors.Internal("Message subscription failed", err))
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				if listenerClosed(ctx, err) {
					return
				}
				fn(nil, errors.Internal("Failed to read message snapshot", err))
				return
			}

			messages, err := decodeMessages(chatID, docs)
			if err != nil {
				fn(nil, err)
				return
			}
			fn(messages, nil)
		}
	}()

	return cancel, nil
}

func listenerClosed(ctx context.Context, err error) bool {
	return ctx.Err() != nil || stderrors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled
}

func (r *firestoreChatRepository) ListUnreadMessageIDs(ctx context.Context, chatID, userID string) ([]string, error) {
	docs, err := r.messages(chatID).
		Where("receiverId", "==", userID).
		Where("isRead", "==", false).
		Select().
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Internal("Failed to query unread messages", err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.Ref.ID)
	}
	return ids, nil
}

func (r *firestoreChatRepository) MarkMessagesRead(ctx context.Context, chatID, userID string, messageIDs []string) error {
	refs := make([]*firestore.DocumentRef, 0, len(messageIDs))
	for _, id := range messageIDs {
		refs = append(refs, r.messages(chatID).Doc(id))
	}

	err := r.commitInChunks(ctx, refs,
		func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
			return tx.Update(ref, []firestore.Update{
				{Path: "isRead", Value: true},
				{Path: "readAt", Value: firestore.ServerTimestamp},
			})
		},
		func(tx *firestore.Transaction) error {
			return tx.Set(r.summary(chatID), map[string]interface{}{
				entity.UnreadField(userID): 0,
				entity.SeenAtField(userID): firestore.ServerTimestamp,
			}, firestore.MergeAll)
		},
	)
	if err != nil {
		logger.Error("Firestore error while marking chat %s read for %s: %v", chatID, userID, err)
		return errors.Internal("Failed to mark messages as read", err)
	}
	return nil
}

func (r *firestoreChatRepository) SetSummaryLast(ctx context.Context, chatID string, last *entity.Message) error {
	fields := map[string]interface{}{
		"lastMessage":   "",
		"lastSender":    "",
		"lastReceiver":  "",
		"lastMessageId": nil,
		"lastTimestamp": nil,
	}
	if last != nil {
		fields["lastMessage"] = last.Preview()
		fields["lastSender"] = last.SenderID
		fields["lastReceiver"] = last.ReceiverID
		fields["lastMessageId"] = last.ID
		fields["lastTimestamp"] = last.CreatedAt
	}

	if _, err := r.summary(chatID).Set(ctx, fields, firestore.MergeAll); err != nil {
		return errors.Internal("Failed to update chat summary", err)
	}
	return nil
}

func (r *firestoreChatRepository) DeleteMessages(ctx context.Context, chatID string, messageIDs []string, clearUnreadFor []string) error {
	refs := make([]*firestore.DocumentRef, 0, len(messageIDs))
	for _, id := range messageIDs {
		refs = append(refs, r.messages(chatID).Doc(id))
	}

	reset := map[string]interface{}{
		"lastMessage":   "",
		"lastSender":    "",
		"lastReceiver":  "",
		"lastMessageId": nil,
		"lastTimestamp": firestore.ServerTimestamp,
	}
	for _, userID := range clearUnreadFor {
		reset[entity.UnreadField(userID)] = 0
	}

	err := r.commitInChunks(ctx, refs,
		func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
			return tx.Delete(ref)
		},
		func(tx *firestore.Transaction) error {
			return tx.Set(r.summary(chatID), reset, firestore.MergeAll)
		},
	)
	if err != nil {
		logger.Error("Firestore error while deleting messages of chat %s: %v", chatID, err)
		return errors.Internal("Failed to delete messages", err)
	}
	return nil
}

// commitInChunks applies write to every ref inside transactions of at most
// maxWritesPerCommit writes. final joins the last transaction, so when refs
// fit in one commit the whole operation is atomic.
func (r *firestoreChatRepository) commitInChunks(
	ctx context.Context,
	refs []*firestore.DocumentRef,
	write func(tx *firestore.Transaction, ref *firestore.DocumentRef) error,
	final func(tx *firestore.Transaction) error,
) error {
	chunkSize := maxWritesPerCommit - 1
	for start := 0; ; start += chunkSize {
		end := start + chunkSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]
		last := end == len(refs)

		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, ref := range chunk {
				if err := write(tx, ref); err != nil {
					return err
				}
			}
			if last {
				return final(tx)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

func (r *firestoreChatRepository) GetSummary(ctx context.Context, chatID string) (*entity.ChatSummary, error) {
	doc, err := r.summary(chatID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat summary", err)
		}
		return nil, errors.Internal("Failed to get chat summary", err)
	}

	return entity.SummaryFromMap(doc.Ref.ID, doc.Data()), nil
}

func (r *firestoreChatRepository) ListenSummaries(ctx context.Context, userID string, fn repository.SummaryListener) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	snapshots := r.client.Collection(summariesCollection).
		Where("users", "array-contains", userID).
		OrderBy("lastTimestamp", firestore.Desc).
		Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if listenerClosed(ctx, err) {
					return
				}
				logger.Error("Summary listener for user %s failed: %v", userID, err)
				fn(nil, errors.Internal("Summary subscription failed", err))
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				if listenerClosed(ctx, err) {
					return
				}
				fn(nil, errors.Internal("Failed to read summary snapshot", err))
				return
			}

			summaries := make([]*entity.ChatSummary, 0, len(docs))
			for _, doc := range docs {
				summaries = append(summaries, entity.SummaryFromMap(doc.Ref.ID, doc.Data()))
			}
			fn(summaries, nil)
		}
	}()

	return cancel, nil
}
