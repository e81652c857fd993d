package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateSource is the long-polling half of the Bot API client.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll receives updates by long polling until ctx is done. Use it when no
// public webhook URL is available.
func (a *Adapter) Poll(ctx context.Context, src UpdateSource, timeoutSeconds int) error {
	if src == nil {
		return fmt.Errorf("telegram: bot not configured")
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeoutSeconds
	cfg.AllowedUpdates = []string{"message"}
	updates := src.GetUpdatesChan(cfg)
	a.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			src.StopReceivingUpdates()
			a.logger.Info("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			a.HandleUpdate(ctx, update)
		}
	}
}

// FileResolver turns photo file ids into direct download links.
type FileResolver struct {
	bot *tgbotapi.BotAPI
}

func NewFileResolver(bot *tgbotapi.BotAPI) *FileResolver {
	return &FileResolver{bot: bot}
}

func (f *FileResolver) FileURL(ctx context.Context, fileID string) (string, error) {
	if f == nil || f.bot == nil {
		return "", fmt.Errorf("telegram: bot not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	link, err := f.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("telegram: get file %s: %w", fileID, err)
	}
	return link, nil
}
