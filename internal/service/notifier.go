package service

import (
	"context"
	"log/slog"
	"net/url"
)

// LogNotifier "delivers" routing tokens by logging the link. It stands in
// for a mail sender in development and single-operator deployments.
type LogNotifier struct {
	logger *slog.Logger
	// resetURL is the client page that accepts ?token=...
	resetURL string
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger, resetURL string) *LogNotifier {
	return &LogNotifier{logger: logger, resetURL: resetURL}
}

func (n *LogNotifier) PasswordReset(ctx context.Context, email, token string) error {
	link, err := url.Parse(n.resetURL)
	if err != nil {
		return err
	}
	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()

	n.logger.InfoContext(ctx, "password reset requested",
		slog.String("email", email),
		slog.String("link", link.String()),
	)
	return nil
}
