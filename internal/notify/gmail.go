package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	From         string
}

func (c GmailConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// GmailMailer sends through the Gmail API as the account that issued the
// refresh token.
type GmailMailer struct {
	service *gmail.Service
	from    string
	logger  *logrus.Logger
}

func NewGmailMailer(ctx context.Context, cfg GmailConfig, logger *logrus.Logger) (*GmailMailer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("gmail credentials not configured")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	ts := refreshTokenSource(ctx, oauthCfg, cfg.RefreshToken)

	service, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailMailer{service: service, from: cfg.From, logger: logger}, nil
}

// refreshTokenSource keeps ctx values but not its deadline: the source
// refreshes access tokens for as long as the mailer lives.
func refreshTokenSource(ctx context.Context, cfg *oauth2.Config, refreshToken string) oauth2.TokenSource {
	return cfg.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: refreshToken})
}

func (m *GmailMailer) Send(ctx context.Context, msg Message) error {
	raw := base64.URLEncoding.EncodeToString(buildMIME(m.from, msg))

	sent, err := m.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	m.logger.WithFields(logrus.Fields{
		"to":         msg.To,
		"message_id": sent.Id,
	}).Info("Email sent")
	return nil
}

func buildMIME(from string, msg Message) []byte {
	var buf bytes.Buffer
	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}
