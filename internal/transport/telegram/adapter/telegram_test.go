package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	kit "econbot/internal/transport"
	"econbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText(short) = %q", got)
	}
	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("splitText(newline) = %q", got)
	}
	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("splitText(hard) = %q", got)
	}
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/setMyCommands") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var body struct {
			Commands []struct{ Command string } `json:"commands"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Commands) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"bad"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cmds := []kit.BotCommand{{Command: "calendar", Description: "this week"}, {Command: "help"}}
	for i := 0; i < 2; i++ {
		if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
			t.Fatalf("UpdateMenuCommands() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if err := a.UpdateMenuCommands(context.Background(), cmds[:1]); err == nil {
		t.Fatalf("UpdateMenuCommands() error = nil, want API failure")
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatalf("New() error = nil, want error")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if got := kit.RetryAfter(classify(tele.FloodError{RetryAfter: 7})); got != 7*time.Second {
		t.Fatalf("RetryAfter(flood) = %v, want 7s", got)
	}
	if !kit.IsPermanent(classify(tele.ErrChatNotFound)) {
		t.Fatal("chat not found not permanent")
	}
	other := errors.New("connection reset")
	if got := classify(other); got != other {
		t.Fatalf("classify(other) = %v, want unchanged", got)
	}
}
