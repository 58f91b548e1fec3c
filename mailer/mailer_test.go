package mailer

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTemplates(t *testing.T) {
	cases := []struct {
		title   string
		msg     Message
		link    string
		subject string
	}{
		{"verification", VerificationEmail("Ada", "ada@example.com", "http://x/verify-email/abc"), "http://x/verify-email/abc", "Verify"},
		{"reset", PasswordResetEmail("Ada", "ada@example.com", "http://x/reset-password/abc"), "http://x/reset-password/abc", "Reset"},
	}
	for _, c := range cases {
		if !strings.Contains(c.msg.Text, c.link) || !strings.Contains(c.msg.HTML, c.link) {
			t.Errorf("[%s] Expected link in both bodies", c.title)
		}
		if !strings.Contains(c.msg.Subject, c.subject) {
			t.Errorf("[%s] Expected subject to contain %q, got: %q", c.title, c.subject, c.msg.Subject)
		}
		if c.msg.ToEmail != "ada@example.com" {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, "ada@example.com", c.msg.ToEmail)
		}
	}
}

func TestTemplateEscapesName(t *testing.T) {
	msg := VerificationEmail("<b>x</b>", "x@example.com", "http://x")
	if strings.Contains(msg.HTML, "<b>x</b>") {
		t.Errorf("Expected name to be escaped in HTML body: %s", msg.HTML)
	}
}

func TestSMTPBuild(t *testing.T) {
	s := &SMTPSender{FromName: "BlogSy", From: "no-reply@blogsy.dev"}
	raw := string(s.build(Message{ToName: "Ada", ToEmail: "ada@example.com", Subject: "Hello", Text: "plain", HTML: "<p>rich</p>"}))

	for _, want := range []string{"To: Ada <ada@example.com>", "Subject: Hello", "multipart/alternative", "plain", "<p>rich</p>"} {
		if !strings.Contains(raw, want) {
			t.Errorf("Expected %q in message", want)
		}
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{Log: zap.NewNop()}).Send(context.Background(), Message{ToEmail: "a@b.c"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

// fakeRelay accepts SMTP connections on localhost. A silent relay never
// sends its greeting; otherwise it speaks just enough SMTP to take one mail.
func fakeRelay(t *testing.T, silent bool) (host, port string, received chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Unexpected listen error: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	received = make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if silent {
			_, _ = bufio.NewReader(conn).ReadString('\n')
			return
		}
		r := bufio.NewReader(conn)
		reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
		reply("220 fake ready")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					received <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 fake")
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				reply("354 go ahead")
			case strings.HasPrefix(cmd, "QUIT"):
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()

	host, port, _ = net.SplitHostPort(ln.Addr().String())
	return host, port, received
}

func TestSMTPSend(t *testing.T) {
	host, port, received := fakeRelay(t, false)
	s := &SMTPSender{Host: host, Port: port, FromName: "BlogSy", From: "no-reply@blogsy.dev"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Send(ctx, Message{ToName: "Ada", ToEmail: "ada@example.com", Subject: "Hello", Text: "plain", HTML: "<p>rich</p>"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	select {
	case body := <-received:
		if !strings.Contains(body, "Subject: Hello") {
			t.Errorf("Expected subject in delivered message, got: %q", body)
		}
	case <-time.After(time.Second):
		t.Error("Expected the relay to receive a message")
	}
}

func TestSMTPSendHonoursContext(t *testing.T) {
	host, port, _ := fakeRelay(t, true)
	s := &SMTPSender{Host: host, Port: port, From: "no-reply@blogsy.dev"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, Message{ToEmail: "ada@example.com"})
	if err == nil {
		t.Error("Expected an error from a silent relay")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected: return near the deadline, got: %v", elapsed)
	}
}
