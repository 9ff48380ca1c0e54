package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"

	"taleBook/internal/config"
)

const resetSubject = "Code de réinitialisation de mot de passe"

// ErrNotConfigured 表示未配置 SMTP 主机或发件人。
var ErrNotConfigured = errors.New("smtp is not configured")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer 通过 SMTP 提交纯文本邮件。smtp.SendMail 在服务器支持时自动升级 STARTTLS，
// PLAIN 认证只会在加密连接（或 localhost）上发送凭证。
type SMTPMailer struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
	send   sendFunc
}

func NewSMTPMailer(cfg config.SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mailer")),
		send:   smtp.SendMail,
	}, nil
}

// SendResetCode 把重置码发送给 to。
func (m *SMTPMailer) SendResetCode(ctx context.Context, to, username, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := fmt.Sprintf("Bonjour %s,\n\nVotre code de réinitialisation est : %s\n\nCordialement.", username, code)
	msg := buildMessage(m.cfg.From, to, resetSubject, body)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(m.cfg.Address(), auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send reset code to %s: %w", username, err)
	}
	m.logger.Info("reset code sent", slog.String("username", username))
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: " + from + "\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}
