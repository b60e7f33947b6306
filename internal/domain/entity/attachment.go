package entity

import "time"

// Attachment is the ledger entry of an uploaded blob. Orphaned entries are
// blobs whose message is gone but whose delete failed.
type Attachment struct {
	ID         string    `json:"id" firestore:"id"`
	ChatID     string    `json:"chat_id" firestore:"chatId"`
	Path       string    `json:"path" firestore:"path"`
	URL        string    `json:"url" firestore:"url"`
	UploadedBy string    `json:"uploaded_by" firestore:"uploadedBy"`
	FileName   string    `json:"file_name" firestore:"fileName"`
	FileType   string    `json:"file_type" firestore:"fileType"`
	FileSize   int64     `json:"file_size" firestore:"fileSize"`
	CreatedAt  time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt  time.Time `json:"updated_at,omitempty" firestore:"updatedAt"`

	Orphaned  bool   `json:"orphaned" firestore:"orphaned"`
	MessageID string `json:"message_id,omitempty" firestore:"messageId,omitempty"`
	LastError string `json:"last_error,omitempty" firestore:"lastError,omitempty"`
	Attempts  int    `json:"attempts" firestore:"attempts"`
}
