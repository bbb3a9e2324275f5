package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"
)

type page struct {
	channels []slack.Channel
	next     string
	err      error
}

// mockLister serves pages keyed by cursor and records every request.
type mockLister struct {
	mu    sync.Mutex
	pages map[string][]page // cursor → responses, consumed in order; last one repeats
	calls []*slack.GetConversationsParameters
}

func (m *mockLister) GetConversationsContext(_ context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *params
	m.calls = append(m.calls, &cp)
	responses := m.pages[params.Cursor]
	if len(responses) == 0 {
		return nil, "", errors.New("unexpected cursor " + params.Cursor)
	}
	resp := responses[0]
	if len(responses) > 1 {
		m.pages[params.Cursor] = responses[1:]
	}
	return resp.channels, resp.next, resp.err
}

func (m *mockLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func ch(id, name string, private, member, archived bool) slack.Channel {
	var c slack.Channel
	c.ID = id
	c.Name = name
	c.IsPrivate = private
	c.IsMember = member
	c.IsArchived = archived
	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDirectory(api ConversationLister, maxPages int) *Directory {
	return New(Config{
		API:      api,
		MaxPages: maxPages,
		Logger:   quietLogger(),
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	})
}

func names(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = c.Name
	}
	return out
}

func TestList_FollowsCursorAcrossPages(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"":   {{channels: []slack.Channel{ch("C1", "general", false, true, false)}, next: "p2"}},
		"p2": {{channels: []slack.Channel{ch("G1", "d1_999_clinic", true, true, false)}, next: "p3"}},
		"p3": {{channels: []slack.Channel{ch("C2", "999_info", false, false, false)}}},
	}}
	d := newTestDirectory(api, 10)

	got, err := d.List(context.Background(), AllChannels)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"general", "d1_999_clinic", "999_info"}
	if !slices.Equal(names(got), want) {
		t.Errorf("names = %v, want %v", names(got), want)
	}
	if !got[1].IsPrivate || got[1].ID != "G1" {
		t.Errorf("private record not preserved: %+v", got[1])
	}

	first := api.calls[0]
	if !slices.Equal(first.Types, []string{"public_channel", "private_channel"}) {
		t.Errorf("types = %v", first.Types)
	}
	if !first.ExcludeArchived {
		t.Error("expected ExcludeArchived when archived channels are not requested")
	}
	if first.Limit != 1000 {
		t.Errorf("page size = %d, want 1000", first.Limit)
	}
}

func TestList_PropagatesFetchError(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"":   {{channels: []slack.Channel{ch("C1", "general", false, true, false)}, next: "p2"}},
		"p2": {{err: errors.New("internal_error")}},
	}}
	d := newTestDirectory(api, 10)

	got, err := d.List(context.Background(), AllChannels)
	if err == nil {
		t.Fatal("expected error from failing page")
	}
	if got != nil {
		t.Errorf("expected no partial result, got %v", names(got))
	}
}

func TestList_PageLimit(t *testing.T) {
	// A cursor chain that never terminates.
	api := &mockLister{pages: map[string][]page{
		"":     {{channels: []slack.Channel{ch("C1", "a", false, true, false)}, next: "loop"}},
		"loop": {{channels: []slack.Channel{ch("C2", "b", false, true, false)}, next: "loop"}},
	}}
	d := newTestDirectory(api, 3)

	_, err := d.List(context.Background(), AllChannels)
	if !errors.Is(err, ErrPageLimit) {
		t.Fatalf("err = %v, want ErrPageLimit", err)
	}
	if n := api.callCount(); n != 3 {
		t.Errorf("fetched %d pages, want 3", n)
	}
}

func TestList_RetriesRateLimitedPage(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"": {
			{err: &slack.RateLimitedError{RetryAfter: 0}},
			{channels: []slack.Channel{ch("C1", "general", false, true, false)}},
		},
	}}
	d := newTestDirectory(api, 10)

	got, err := d.List(context.Background(), AllChannels)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d channels, want 1", len(got))
	}
	if n := api.callCount(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestList_RateLimitBudgetExhausted(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"": {{err: &slack.RateLimitedError{RetryAfter: 0}}},
	}}
	d := newTestDirectory(api, 10)

	_, err := d.List(context.Background(), AllChannels)
	var limited *slack.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want wrapped RateLimitedError", err)
	}
	// One initial attempt plus two retries.
	if n := api.callCount(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestChannels_SkipsArchived(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"": {{channels: []slack.Channel{
			ch("C1", "d1_999_old", false, true, true),
			ch("C2", "d1_999_new", false, true, false),
		}}},
	}}
	d := newTestDirectory(api, 10)

	got, err := d.List(context.Background(), AllChannels)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(names(got), []string{"d1_999_new"}) {
		t.Errorf("names = %v", names(got))
	}
}

func TestChannels_IncludeArchived(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"": {{channels: []slack.Channel{ch("C1", "old", false, false, true)}}},
	}}
	d := newTestDirectory(api, 10)

	got, err := d.List(context.Background(), Options{Public: true, IncludeArchived: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || !got[0].IsArchived {
		t.Errorf("got %+v, want archived channel", got)
	}
	if api.calls[0].ExcludeArchived {
		t.Error("ExcludeArchived should be false")
	}
	if !slices.Equal(api.calls[0].Types, []string{"public_channel"}) {
		t.Errorf("types = %v", api.calls[0].Types)
	}
}

func TestChannels_Restartable(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"":   {{channels: []slack.Channel{ch("C1", "a", false, true, false)}, next: "p2"}},
		"p2": {{channels: []slack.Channel{ch("C2", "b", false, true, false)}}},
	}}
	d := newTestDirectory(api, 10)
	seq := d.Channels(context.Background(), AllChannels)

	var runs [][]string
	for range 2 {
		var got []string
		for c, err := range seq {
			if err != nil {
				t.Fatalf("iterate: %v", err)
			}
			got = append(got, c.Name)
		}
		runs = append(runs, got)
	}
	if !slices.Equal(runs[0], runs[1]) {
		t.Errorf("runs differ: %v vs %v", runs[0], runs[1])
	}
	if n := api.callCount(); n != 4 {
		t.Errorf("calls = %d, want 4 (two full enumerations)", n)
	}
}

func TestChannels_EarlyBreakStopsFetching(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"":   {{channels: []slack.Channel{ch("C1", "a", false, true, false)}, next: "p2"}},
		"p2": {{channels: []slack.Channel{ch("C2", "b", false, true, false)}}},
	}}
	d := newTestDirectory(api, 10)

	for range d.Channels(context.Background(), AllChannels) {
		break
	}
	if n := api.callCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestChannels_NoTypesRequested(t *testing.T) {
	api := &mockLister{}
	d := newTestDirectory(api, 10)

	got, err := d.List(context.Background(), Options{})
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want empty", got, err)
	}
	if api.callCount() != 0 {
		t.Error("no API call expected")
	}
}

func TestList_CancelledContext(t *testing.T) {
	api := &mockLister{pages: map[string][]page{
		"": {{err: &slack.RateLimitedError{RetryAfter: 0}}},
	}}
	d := New(Config{API: api, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.List(ctx, AllChannels); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
