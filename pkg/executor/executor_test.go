package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(0)
	r.Register("echo", func(_ context.Context, params map[string]interface{}) (Result, error) {
		return Completed(map[string]interface{}{"echo": params["msg"]}), nil
	})
	res, err := r.Execute(context.Background(), "echo", map[string]interface{}{"msg": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "completed" || res.Result["echo"] != "hi" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRegistryUnknownAction(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Execute(context.Background(), "nope", nil)
	var uerr *UnknownActionError
	if !errors.As(err, &uerr) {
		t.Fatalf("want UnknownActionError, got %v", err)
	}
	if uerr.ActionType != "nope" {
		t.Fatalf("action type = %q", uerr.ActionType)
	}
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("hang", func(ctx context.Context, _ map[string]interface{}) (Result, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return Completed(nil), nil
	})
	_, err := r.Execute(context.Background(), "hang", nil)
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error, got %v", err)
	}
}

func TestSendEmailRecordsWithoutSMTP(t *testing.T) {
	h := sendEmail(SMTPConfig{})
	res, err := h(context.Background(), map[string]interface{}{
		"to": "a@example.com", "subject": "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result["recorded"] != true || res.Result["delivered"] != false {
		t.Fatalf("result = %v", res.Result)
	}
}

func TestSendEmailRequiresRecipient(t *testing.T) {
	h := sendEmail(SMTPConfig{})
	if _, err := h(context.Background(), map[string]interface{}{"subject": "x"}); err == nil {
		t.Fatal("missing recipient should error")
	}
}

func TestCreateMeetingLink(t *testing.T) {
	res, err := createMeetingLink(context.Background(), map[string]interface{}{"title": "Team Sync"})
	if err != nil {
		t.Fatal(err)
	}
	link, _ := res.Result["meeting_link"].(string)
	if !strings.HasPrefix(link, "https://meet.jit.si/team-sync-") {
		t.Fatalf("link = %q", link)
	}
	room, _ := res.Result["room"].(string)
	if !strings.HasPrefix(room, "team-sync-") {
		t.Fatalf("room = %q", room)
	}
}

func TestCreateMeetingLinkUntitled(t *testing.T) {
	res, err := createMeetingLink(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	room, _ := res.Result["room"].(string)
	if !strings.HasPrefix(room, "meeting-") {
		t.Fatalf("room = %q", room)
	}
}

func TestDefaultRegistryActionSet(t *testing.T) {
	r := NewDefault(SMTPConfig{}, time.Second)
	for _, action := range []string{"send_email", "compose_email", "create_meeting_link", "save_meeting", "send_reminder", "web_search"} {
		if _, ok := r.handlers[action]; !ok {
			t.Fatalf("action %s not registered", action)
		}
	}
}
