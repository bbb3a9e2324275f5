package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/Vortex-9191/slack-question-bot/internal/directory"
	"github.com/Vortex-9191/slack-question-bot/internal/signature"
	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

type fakeWorkspace struct {
	listErrs map[string]error // keyed by conversation type
	joinErr  error
	postErr  error
	openErr  error
	joined   []string
}

func (f *fakeWorkspace) GetConversationsContext(_ context.Context, p *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	return nil, "", f.listErrs[strings.Join(p.Types, ",")]
}

func (f *fakeWorkspace) JoinConversationContext(_ context.Context, id string) (*slack.Channel, string, []string, error) {
	if f.joinErr != nil {
		return nil, "", nil, f.joinErr
	}
	f.joined = append(f.joined, id)
	return &slack.Channel{}, "", nil, nil
}

func (f *fakeWorkspace) PostMessageContext(context.Context, string, ...slack.MsgOption) (string, string, error) {
	return "", "", f.postErr
}

func (f *fakeWorkspace) OpenConversationContext(context.Context, *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	return nil, false, false, f.openErr
}

func slackErr(code string) error { return slack.SlackErrorResponse{Err: code} }

func TestProbeScopes(t *testing.T) {
	api := &fakeWorkspace{
		listErrs: map[string]error{"private_channel": slackErr("missing_scope")},
		joinErr:  slackErr("channel_not_found"),
		postErr:  slackErr("channel_not_found"),
		openErr:  slackErr("not_authed"),
	}

	results := probeScopes(context.Background(), api, time.Second)

	want := map[string]string{
		"channels:read": "ok",
		"groups:read":   "missing",
		"channels:join": "ok",
		"chat:write":    "ok",
		"im:write":      "error",
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for _, r := range results {
		if r.Status != want[r.Scope] {
			t.Errorf("%s: status = %q, want %q (detail %q)", r.Scope, r.Status, want[r.Scope], r.Detail)
		}
	}
}

func TestClassifyProbe(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		benign []string
		want   string
	}{
		{"nil", nil, nil, "ok"},
		{"missing scope", slackErr("missing_scope"), []string{"missing_scope"}, "missing"},
		{"benign", slackErr("user_not_found"), []string{"user_not_found"}, "ok"},
		{"other", slackErr("invalid_auth"), nil, "error"},
		{"transport", errors.New("dial tcp: timeout"), nil, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := classifyProbe(tt.err, tt.benign...); got != tt.want {
				t.Errorf("classifyProbe = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindChannel(t *testing.T) {
	channels := []directory.Channel{
		{ID: "C1", Name: "999_info"},
		{ID: "C2", Name: "d2_999_clinic", IsPrivate: true},
		{ID: "C3", Name: "d1_9990_other"},
		{ID: "C4", Name: "general"},
	}

	res := findChannel("999", channels)

	if res.Scanned != 4 {
		t.Errorf("scanned = %d", res.Scanned)
	}
	if res.Selected == nil || res.Selected.ID != "C2" || res.MatchedBy != "structured_prefix" {
		t.Fatalf("selected = %+v via %q", res.Selected, res.MatchedBy)
	}
	got := map[string]int{}
	for _, rc := range res.Candidates {
		got[rc.Rule] = len(rc.Channels)
	}
	if got["structured_prefix"] != 1 || got["info_suffix"] != 1 {
		t.Errorf("candidates = %v", got)
	}

	if none := findChannel("123", channels); none.Selected != nil {
		t.Errorf("unknown doctor selected %+v", none.Selected)
	}
}

func TestJoinAll(t *testing.T) {
	channels := []directory.Channel{
		{ID: "C1", Name: "a"},
		{ID: "C2", Name: "b", IsMember: true},
		{ID: "C3", Name: "c", IsArchived: true},
		{ID: "C4", Name: "d", IsPrivate: true},
		{ID: "C5", Name: "e"},
	}
	unlimited := rate.NewLimiter(rate.Inf, 1)

	t.Run("joins public non-members", func(t *testing.T) {
		api := &fakeWorkspace{}
		rep, err := joinAll(context.Background(), api, channels, unlimited, false)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Join(api.joined, ",") != "C1,C5" {
			t.Errorf("joined = %v", api.joined)
		}
		if len(rep.Joined) != 2 || rep.AlreadyMember != 1 || len(rep.Failed) != 0 {
			t.Errorf("report = %+v", rep)
		}
	})

	t.Run("dry run joins nothing", func(t *testing.T) {
		api := &fakeWorkspace{}
		rep, err := joinAll(context.Background(), api, channels, unlimited, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(api.joined) != 0 || len(rep.Joined) != 2 || !rep.DryRun {
			t.Errorf("joined = %v, report = %+v", api.joined, rep)
		}
	})

	t.Run("records failures", func(t *testing.T) {
		api := &fakeWorkspace{joinErr: slackErr("method_not_supported_for_channel_type")}
		rep, err := joinAll(context.Background(), api, channels, unlimited, false)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Failed["a"] != "method_not_supported_for_channel_type" || len(rep.Failed) != 2 {
			t.Errorf("failed = %v", rep.Failed)
		}
	})

	t.Run("stops when context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := rate.NewLimiter(rate.Every(time.Hour), 0)
		if _, err := joinAll(ctx, &fakeWorkspace{}, channels, slow, false); err == nil {
			t.Error("expected an error from a cancelled context")
		}
	})
}

func TestSignHeaders(t *testing.T) {
	body := []byte("command=%2Fquestion&trigger_id=T1")
	now := time.Unix(1700000000, 0)

	headers := signHeaders("secret", body, 0, now)

	if headers[signature.HeaderTimestamp] != "1700000000" {
		t.Errorf("timestamp = %q", headers[signature.HeaderTimestamp])
	}
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	if !signature.Verify(h, body, "secret", now) {
		t.Error("signed headers should verify")
	}

	fixed := signHeaders("secret", body, 1600000000, now)
	if fixed[signature.HeaderTimestamp] != "1600000000" {
		t.Errorf("explicit timestamp ignored: %v", fixed)
	}
}

func TestTokenType(t *testing.T) {
	tests := map[string]string{
		"xoxb-1-2":  "bot",
		"xoxp-1-2":  "user",
		"xapp-1-2":  "app-level",
		"":          "none",
		"something": "unknown",
	}
	for token, want := range tests {
		if got := tokenType(token); got != want {
			t.Errorf("tokenType(%q) = %q, want %q", token, got, want)
		}
	}
}

func TestStatsRows(t *testing.T) {
	s := &store.Stats{
		Total:      3,
		ByStatus:   map[store.Status]int{store.StatusPending: 2, store.StatusAnswered: 1},
		ByCategory: map[string]int{"cs": 3},
		ByUrgency:  map[string]int{"urgent": 1},
	}
	rows := statsRows(s)
	if len(rows) != len(store.Statuses)+len(store.Categories)+len(store.Urgencies) {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0][1] != store.StatusPending.Label() || rows[0][2] != "2" {
		t.Errorf("first row = %v", rows[0])
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, []string{"ID", "NAME"}, [][]string{{"C1", "999_info"}})
	out := buf.String()
	for _, want := range []string{"ID", "NAME", "C1", "999_info"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
