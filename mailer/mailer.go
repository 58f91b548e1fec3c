// Package mailer sends the account emails (verification, password reset).
package mailer

import (
	"context"
	"fmt"
	"html"

	"go.uber.org/zap"
)

type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is
// the sender used when neither SendGrid nor SMTP is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("email not delivered, no mail provider configured",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}

func VerificationEmail(name, email, link string) Message {
	return Message{
		ToName:  name,
		ToEmail: email,
		Subject: "Verify your BlogSy email",
		Text: fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below. "+
			"It expires in 24 hours.\n\n%s\n", name, link),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Confirm your email address by clicking the button below. It expires in 24 hours.</p>`+
			`<p><a href="%s" style="padding:10px 16px;background:#4f46e5;color:#fff;border-radius:6px;text-decoration:none">Verify email</a></p>`,
			html.EscapeString(name), html.EscapeString(link)),
	}
}

func PasswordResetEmail(name, email, link string) Message {
	return Message{
		ToName:  name,
		ToEmail: email,
		Subject: "Reset your BlogSy password",
		Text: fmt.Sprintf("Hi %s,\n\nSomeone asked to reset your password. The link below works once "+
			"and expires in 1 hour.\n\n%s\n\nIf this wasn't you, ignore this email.\n", name, link),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Someone asked to reset your password. The link below works once and expires in 1 hour.</p>`+
			`<p><a href="%s">Reset password</a></p><p>If this wasn't you, ignore this email.</p>`,
			html.EscapeString(name), html.EscapeString(link)),
	}
}
