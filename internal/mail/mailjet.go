package mail

import (
	"context"

	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/mailjet/mailjet-apiv3-go/v4"
)

const mailjetService = "mailjet"

// MailjetConfig はMailjet Send API v3.1の設定。
type MailjetConfig struct {
	PublicKey string
	SecretKey string
	From      string
	FromName  string
	// BaseURL はテスト時に差し替える。空の場合はMailjetの本番API。
	BaseURL string
}

// MailjetMailer はMailjet経由でメールを送信する。
type MailjetMailer struct {
	client *mailjet.Client
	cfg    MailjetConfig
}

// NewMailjetMailer はMailjetMailerを生成する。
func NewMailjetMailer(cfg MailjetConfig) *MailjetMailer {
	var client *mailjet.Client
	if cfg.BaseURL != "" {
		client = mailjet.NewMailjetClient(cfg.PublicKey, cfg.SecretKey, cfg.BaseURL)
	} else {
		client = mailjet.NewMailjetClient(cfg.PublicKey, cfg.SecretKey)
	}
	return &MailjetMailer{client: client, cfg: cfg}
}

// Send はメッセージを1通送信する。
// Mailjetクライアントはcontextを受け取らないため、呼び出し前にキャンセル済みかだけ確認する。
func (m *MailjetMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return model.NewExternalServiceError(mailjetService, "send", 0, err)
	}

	messages := mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{
		{
			From: &mailjet.RecipientV31{
				Email: m.cfg.From,
				Name:  m.cfg.FromName,
			},
			To: &mailjet.RecipientsV31{
				{Email: msg.To},
			},
			Subject:  msg.Subject,
			TextPart: msg.Body,
		},
	}}

	if _, err := m.client.SendMailV31(&messages); err != nil {
		return model.NewExternalServiceError(mailjetService, "send", 0, err)
	}
	return nil
}

var _ Mailer = (*MailjetMailer)(nil)
