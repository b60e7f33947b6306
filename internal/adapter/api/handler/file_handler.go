package handler

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/service"
	"chatsync/internal/usecase"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

type FileHandler struct {
	chatSync    *usecase.ChatSync
	blobStore   service.BlobStore
	maxFileSize int64
}

func NewFileHandler(chatSync *usecase.ChatSync, blobStore service.BlobStore) *FileHandler {
	return &FileHandler{
		chatSync:    chatSync,
		blobStore:   blobStore,
		maxFileSize: 5 * 1024 * 1024,
	}
}

// UploadAttachment stores a multipart "file" under the chat's folder and
// returns the FileData to send with the message.
func (h *FileHandler) UploadAttachment(c echo.Context) error {
	userID := getUserIDFromContext(c)
	chatID := c.Param("id")

	ok, err := h.chatSync.IsParticipant(c.Request().Context(), chatID, userID)
	if err != nil {
		return response.Error(c, err)
	}
	if !ok {
		return response.Error(c, errors.Forbidden("You are not a participant in this chat", nil))
	}

	file, err := c.FormFile("file")
	if err != nil {
		logger.Warn("Error getting file from form: %v", err)
		return response.Error(c, errors.BadRequest("Missing or invalid file", err))
	}

	logger.Debug("Received file: %s, size: %d bytes, type: %s", file.Filename, file.Size, file.Header.Get("Content-Type"))

	if file.Size > h.maxFileSize {
		logger.Warn("File too large: %d bytes (max: %d)", file.Size, h.maxFileSize)
		return response.Error(c, errors.BadRequest(fmt.Sprintf("File size exceeds maximum allowed (%dMB)", h.maxFileSize/(1024*1024)), nil))
	}

	fileType := file.Header.Get("Content-Type")
	if !isAllowedFileType(fileType) {
		logger.Warn("Invalid file type: %s", fileType)
		return response.Error(c, errors.BadRequest("File type not supported", nil))
	}

	src, err := file.Open()
	if err != nil {
		logger.Error("Error opening file: %v", err)
		return response.Error(c, errors.Internal("Unable to read file", err))
	}
	defer src.Close()

	result, err := h.blobStore.Upload(c.Request().Context(), src, fileType, file.Filename, usecase.AttachmentFolder(chatID))
	if err != nil {
		logger.Error("Attachment upload for chat %s failed: %v", chatID, err)
		return response.Error(c, errors.Internal("Failed to upload file", err))
	}

	if err := h.chatSync.RecordAttachment(c.Request().Context(), chatID, userID, result); err != nil {
		logger.Error("Attachment %s uploaded but not recorded: %v", result.Path, err)
		if derr := h.blobStore.Delete(c.Request().Context(), result.Path); derr != nil {
			logger.Warn("Failed to remove unrecorded attachment %s: %v", result.Path, derr)
		}
		return response.Error(c, errors.Internal("Failed to record file", err))
	}

	logger.Info("Uploaded attachment %s for chat %s", result.Path, chatID)
	return response.Created(c, result)
}

func isAllowedFileType(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}
