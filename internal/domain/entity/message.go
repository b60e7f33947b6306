package entity

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"

	// ImagePreview is the chat-list preview shown for attachment messages.
	ImagePreview = "📷 Image"

	TempIDPrefix = "temp-"
)

type Message struct {
	ID          string     `json:"id" firestore:"-"`
	ChatID      string     `json:"chat_id" firestore:"-"`
	SenderID    string     `json:"sender_id" firestore:"senderId"`
	ReceiverID  string     `json:"receiver_id" firestore:"receiverId"`
	Text        string     `json:"text,omitempty" firestore:"text,omitempty"`
	FileURL     string     `json:"file_url,omitempty" firestore:"fileUrl,omitempty"`
	FileName    string     `json:"file_name,omitempty" firestore:"fileName,omitempty"`
	FileType    string     `json:"file_type,omitempty" firestore:"fileType,omitempty"`
	FileSize    int64      `json:"file_size,omitempty" firestore:"fileSize,omitempty"`
	FilePath    string     `json:"file_path,omitempty" firestore:"filePath,omitempty"`
	MessageType string     `json:"message_type" firestore:"messageType"`
	CreatedAt   time.Time  `json:"created_at" firestore:"createdAt"`
	IsRead      bool       `json:"is_read" firestore:"isRead"`
	ReadAt      *time.Time `json:"read_at" firestore:"readAt"`

	IsOptimistic bool `json:"is_optimistic,omitempty" firestore:"-"`
}

// HasAttachment reports whether the message points at a blob.
func (m *Message) HasAttachment() bool {
	return m.FileURL != "" || m.FilePath != ""
}

// Preview is the denormalized chat-list text for this message.
func (m *Message) Preview() string {
	if m.MessageType == MessageTypeImage || m.HasAttachment() {
		return ImagePreview
	}
	return m.Text
}

// Cursor returns the pagination handle pointing at this message.
func (m *Message) Cursor() *Cursor {
	return &Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// FileData describes an attachment that has already been uploaded to the blob store.
type FileData struct {
	DownloadURL string `json:"download_url" validate:"required,url"`
	Name        string `json:"name" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Size        int64  `json:"size" validate:"min=0"`
	Path        string `json:"path,omitempty"`
}

// MessagePage is one ascending (oldest first) window of a chat.
// A nil Cursor means there is nothing older to fetch.
type MessagePage struct {
	Messages []*Message `json:"messages"`
	Cursor   *Cursor    `json:"-"`
}
