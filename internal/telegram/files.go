package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
)

// FileAPI is the part of *bot.Bot used to fetch uploaded files.
type FileAPI interface {
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// ErrFileTooLarge is returned for uploads over config.MaxAttachmentBytes.
var ErrFileTooLarge = fmt.Errorf("file exceeds %d MB", config.MaxAttachmentBytes>>20)

// DownloadAttachment fetches a Telegram file and returns it as an inline
// attachment. An empty mimeType is sniffed from the content.
func DownloadAttachment(ctx context.Context, b FileAPI, client *http.Client, fileID, mimeType string) (domain.Attachment, error) {
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > config.MaxAttachmentBytes {
		return domain.Attachment{}, ErrFileTooLarge
	}

	fileURL := b.FileDownloadLink(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("create download request: %w", err)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Attachment{}, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxAttachmentBytes+1))
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read file data: %w", err)
	}
	if len(data) > config.MaxAttachmentBytes {
		return domain.Attachment{}, ErrFileTooLarge
	}

	if mimeType == "" {
		mimeType = mimeByExt[path.Ext(file.FilePath)]
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return domain.Attachment{
		MimeType: mimeType,
		URL:      fileURL,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".mp3":  "audio/mpeg",
}
