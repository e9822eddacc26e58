// Package mail は検証メールの送信経路を提供する。
package mail

import (
	"context"
	"log/slog"
)

// Message は送信するテキストメール。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer はメール送信の境界。送信に失敗した場合はエラーを返すだけで再送はしない。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer は送信せずにログへ記録するだけのMailer。ローカル開発用。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send は宛先と件名のみを記録する。本文には検証トークンが含まれるため記録しない。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail delivery suppressed",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

var _ Mailer = (*LogMailer)(nil)
