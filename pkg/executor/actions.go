package executor

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPConfig carries the outbound mail settings. With an empty Host the
// email actions record the send instead of performing it, which keeps dev
// and test runs side-effect free.
type SMTPConfig struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// SMTPFromEnv reads SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, SMTP_FROM.
func SMTPFromEnv() SMTPConfig {
	return SMTPConfig{
		Host: os.Getenv("SMTP_HOST"),
		Port: getenv("SMTP_PORT", "587"),
		User: os.Getenv("SMTP_USER"),
		Pass: os.Getenv("SMTP_PASS"),
		From: os.Getenv("SMTP_FROM"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewDefault builds a registry with the built-in action set.
func NewDefault(smtpCfg SMTPConfig, timeout time.Duration) *Registry {
	r := NewRegistry(timeout)
	r.Register("send_email", sendEmail(smtpCfg))
	r.Register("compose_email", composeEmail)
	r.Register("create_meeting_link", createMeetingLink)
	r.Register("save_meeting", saveMeeting)
	r.Register("send_reminder", sendEmail(smtpCfg))
	r.Register("web_search", webSearch)
	return r
}

// sendEmail delivers via SMTP when configured, otherwise records the send.
func sendEmail(cfg SMTPConfig) HandlerFunc {
	return func(ctx context.Context, params map[string]interface{}) (Result, error) {
		to := str(params, "to")
		subject := str(params, "subject")
		body := str(params, "body")
		if to == "" {
			return Result{}, fmt.Errorf("send_email: missing to")
		}
		if cfg.Host == "" {
			return Completed(map[string]interface{}{
				"delivered": false,
				"recorded":  true,
				"to":        to,
				"subject":   subject,
			}), nil
		}
		msg := strings.Join([]string{
			"From: " + cfg.From,
			"To: " + to,
			"Subject: " + subject,
			"",
			body,
		}, "\r\n")
		addr := cfg.Host + ":" + cfg.Port
		var auth smtp.Auth
		if cfg.User != "" {
			auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
		}
		if err := smtp.SendMail(addr, auth, cfg.From, []string{to}, []byte(msg)); err != nil {
			return Result{}, fmt.Errorf("send_email: %w", err)
		}
		return Completed(map[string]interface{}{"delivered": true, "to": to, "subject": subject}), nil
	}
}

func composeEmail(_ context.Context, params map[string]interface{}) (Result, error) {
	subject := str(params, "subject")
	if subject == "" {
		subject = "(no subject)"
	}
	return Completed(map[string]interface{}{
		"subject": subject,
		"body":    str(params, "body"),
	}), nil
}

// createMeetingLink generates a Jitsi-style room URL from the meeting title.
func createMeetingLink(_ context.Context, params map[string]interface{}) (Result, error) {
	title := str(params, "title")
	slug := strings.ToLower(strings.ReplaceAll(title, " ", "-"))
	if slug == "" {
		slug = "meeting"
	}
	room := fmt.Sprintf("%s-%s", slug, uuid.NewString()[:8])
	base := getenv("MEETING_BASE_URL", "https://meet.jit.si")
	return Completed(map[string]interface{}{
		"meeting_link": base + "/" + room,
		"room":         room,
	}), nil
}

func saveMeeting(_ context.Context, params map[string]interface{}) (Result, error) {
	id := str(params, "meeting_id")
	if id == "" {
		id = uuid.NewString()
	}
	return Completed(map[string]interface{}{"meeting_id": id, "saved": true}), nil
}

// webSearch is a placeholder: the real integration lives outside the core.
func webSearch(_ context.Context, params map[string]interface{}) (Result, error) {
	return Completed(map[string]interface{}{
		"query":   str(params, "query"),
		"results": []interface{}{},
	}), nil
}

func str(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
