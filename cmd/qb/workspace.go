package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/Vortex-9191/slack-question-bot/internal/directory"
	"github.com/Vortex-9191/slack-question-bot/internal/resolver"
)

// IDs that never exist, so write probes fail on the target instead of
// changing anything.
const (
	probeChannelID = "C0000000000"
	probeUserID    = "U0000000000"
)

// workspaceAPI is the subset of *slack.Client the workspace commands use.
type workspaceAPI interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

type probeResult struct {
	Scope  string `json:"scope" yaml:"scope"`
	Check  string `json:"check" yaml:"check"`
	Status string `json:"status" yaml:"status"` // ok, missing or error
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func slackErrorCode(err error) string {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err
	}
	return err.Error()
}

// classifyProbe maps a probe error to a status. Codes in benign are what the
// call returns when the scope is granted but the probe target is bogus.
func classifyProbe(err error, benign ...string) (string, string) {
	if err == nil {
		return "ok", ""
	}
	code := slackErrorCode(err)
	if code == "missing_scope" {
		return "missing", code
	}
	for _, b := range benign {
		if code == b {
			return "ok", code
		}
	}
	return "error", code
}

// probeScopes exercises each Web API method the bot depends on.
func probeScopes(ctx context.Context, api workspaceAPI, timeout time.Duration) []probeResult {
	probes := []struct {
		scope, check string
		benign       []string
		call         func(ctx context.Context) error
	}{
		{"channels:read", "conversations.list public_channel", nil, func(ctx context.Context) error {
			_, _, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{Types: []string{"public_channel"}, Limit: 1})
			return err
		}},
		{"groups:read", "conversations.list private_channel", nil, func(ctx context.Context) error {
			_, _, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{Types: []string{"private_channel"}, Limit: 1})
			return err
		}},
		{"channels:join", "conversations.join", []string{"channel_not_found"}, func(ctx context.Context) error {
			_, _, _, err := api.JoinConversationContext(ctx, probeChannelID)
			return err
		}},
		{"chat:write", "chat.postMessage", []string{"channel_not_found"}, func(ctx context.Context) error {
			_, _, err := api.PostMessageContext(ctx, probeChannelID, slack.MsgOptionText("scope probe", false))
			return err
		}},
		{"im:write", "conversations.open", []string{"user_not_found"}, func(ctx context.Context) error {
			_, _, _, err := api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{probeUserID}})
			return err
		}},
	}

	results := make([]probeResult, 0, len(probes))
	for _, p := range probes {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		status, detail := classifyProbe(p.call(callCtx), p.benign...)
		cancel()
		results = append(results, probeResult{Scope: p.scope, Check: p.check, Status: status, Detail: detail})
	}
	return results
}

var scopesCmd = &cobra.Command{
	Use:   "scopes",
	Short: "Probe the bot token's OAuth scopes",
	Long: `Probe the Web API methods the bot depends on and report which scopes are
missing. Write probes target IDs that do not exist, so nothing is posted
or joined.`,
	GroupID: "diag",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		results := probeScopes(cmd.Context(), slackClient(), cfg.CallTimeout)
		missing := 0
		for _, r := range results {
			if r.Status != "ok" {
				missing++
			}
		}
		render(results, func() {
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{mark(r.Status == "ok"), r.Scope, r.Check, r.Status, r.Detail})
			}
			writeTable(os.Stdout, []string{"", "SCOPE", "CHECK", "STATUS", "DETAIL"}, rows)
			if missing > 0 {
				fmt.Println("Add the missing Bot Token Scopes under OAuth & Permissions, reinstall the app, and update SLACK_BOT_TOKEN.")
			}
		})
		if missing > 0 {
			os.Exit(1)
		}
	},
}

func newDirectory(api directory.ConversationLister) *directory.Directory {
	return directory.New(directory.Config{
		API:            api,
		PageSize:       cfg.DirectoryPageSize,
		MaxPages:       cfg.DirectoryMaxPages,
		CallTimeout:    cfg.CallTimeout,
		PagesPerSecond: cfg.DirectoryRate,
		Logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
}

type ruleCandidates struct {
	Rule     string              `json:"rule" yaml:"rule"`
	Channels []directory.Channel `json:"channels" yaml:"channels"`
}

type findResult struct {
	DoctorID   string             `json:"doctor_id" yaml:"doctor_id"`
	Scanned    int                `json:"scanned" yaml:"scanned"`
	Selected   *directory.Channel `json:"selected" yaml:"selected"`
	MatchedBy  string             `json:"matched_by,omitempty" yaml:"matched_by,omitempty"`
	Candidates []ruleCandidates   `json:"candidates" yaml:"candidates"`
}

// findChannel resolves doctorID against channels and collects every rule's
// candidates, so ties and shadowed matches are visible.
func findChannel(doctorID string, channels []directory.Channel) findResult {
	doctorID = strings.TrimSpace(doctorID)
	res := findResult{DoctorID: doctorID, Scanned: len(channels)}
	r := resolver.New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := r.Resolve(doctorID, channels); got.Matched {
		ch := got.Channel
		res.Selected = &ch
		res.MatchedBy = got.MatchedBy
	}
	for _, rule := range resolver.DefaultPolicy() {
		res.Candidates = append(res.Candidates, ruleCandidates{
			Rule:     rule.Name(),
			Channels: rule.Candidates(doctorID, channels),
		})
	}
	return res
}

var findChannelCmd = &cobra.Command{
	Use:   "find-channel <doctor-id>",
	Short: "Resolve a doctor ID to a channel against the live workspace",
	Long: `List every channel the bot can see, run the routing rules for the doctor
ID, and show which channel a question would be delivered to along with
every candidate each rule matched.`,
	GroupID: "diag",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := newDirectory(slackClient())
		channels, err := dir.List(cmd.Context(), directory.AllChannels)
		if err != nil {
			fatalf("list channels: %v", err)
		}
		res := findChannel(args[0], channels)

		render(res, func() {
			fmt.Printf("Scanned %d channels for doctor %s\n\n", res.Scanned, res.DoctorID)
			var rows [][]string
			for _, rc := range res.Candidates {
				for _, ch := range rc.Channels {
					selected := res.Selected != nil && res.Selected.ID == ch.ID
					rows = append(rows, []string{
						rc.Rule, ch.Name, ch.ID, yesNo(ch.IsPrivate), yesNo(ch.IsMember), yesNo(ch.IsArchived), yesNo(selected),
					})
				}
			}
			if len(rows) > 0 {
				writeTable(os.Stdout, []string{"RULE", "NAME", "ID", "PRIVATE", "MEMBER", "ARCHIVED", "SELECTED"}, rows)
			}
			switch {
			case res.Selected == nil:
				fmt.Println(mark(false), "no channel matches; questions for this doctor are unroutable")
			case res.Selected.IsPrivate && !res.Selected.IsMember:
				fmt.Printf("%s #%s (%s) is private and the bot is not a member; invite the bot\n",
					mark(false), res.Selected.Name, res.MatchedBy)
			default:
				fmt.Printf("%s would deliver to #%s via %s\n", mark(true), res.Selected.Name, res.MatchedBy)
			}
		})
	},
}

type joinReport struct {
	Joined        []string          `json:"joined" yaml:"joined"`
	AlreadyMember int               `json:"already_member" yaml:"already_member"`
	Failed        map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
	DryRun        bool              `json:"dry_run" yaml:"dry_run"`
}

type joiner interface {
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
}

// joinAll joins every public, non-archived channel the bot is not yet in,
// one call per limiter token.
func joinAll(ctx context.Context, api joiner, channels []directory.Channel, limiter *rate.Limiter, dryRun bool) (joinReport, error) {
	rep := joinReport{Joined: []string{}, Failed: map[string]string{}, DryRun: dryRun}
	for _, ch := range channels {
		if ch.IsPrivate || ch.IsArchived {
			continue
		}
		if ch.IsMember {
			rep.AlreadyMember++
			continue
		}
		if dryRun {
			rep.Joined = append(rep.Joined, ch.Name)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return rep, err
		}
		if _, _, _, err := api.JoinConversationContext(ctx, ch.ID); err != nil {
			rep.Failed[ch.Name] = slackErrorCode(err)
			continue
		}
		rep.Joined = append(rep.Joined, ch.Name)
	}
	return rep, nil
}

var joinChannelsCmd = &cobra.Command{
	Use:   "join-channels",
	Short: "Join the bot to every public channel it is not yet in",
	Long: `Join the bot to every public, non-archived channel so questions can be
posted without a join-and-retry. Private channels still need an invite.`,
	GroupID: "diag",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		perSecond, _ := cmd.Flags().GetFloat64("rate")
		if perSecond <= 0 {
			fatalf("--rate must be positive")
		}

		api := slackClient()
		channels, err := newDirectory(api).List(cmd.Context(), directory.Options{Public: true})
		if err != nil {
			fatalf("list channels: %v", err)
		}

		rep, err := joinAll(cmd.Context(), api, channels, rate.NewLimiter(rate.Limit(perSecond), 1), dryRun)
		if err != nil {
			fatalf("join channels: %v", err)
		}

		render(rep, func() {
			verb := "Joined"
			if dryRun {
				verb = "Would join"
			}
			fmt.Printf("%s %d channels, already in %d, failed %d\n", verb, len(rep.Joined), rep.AlreadyMember, len(rep.Failed))
			var rows [][]string
			for name, code := range rep.Failed {
				rows = append(rows, []string{name, code})
			}
			if len(rows) > 0 {
				writeTable(os.Stdout, []string{"CHANNEL", "ERROR"}, rows)
			}
		})
	},
}

func init() {
	joinChannelsCmd.Flags().Bool("dry-run", false, "list the channels that would be joined without joining")
	joinChannelsCmd.Flags().Float64("rate", 1, "joins per second")

	rootCmd.AddCommand(scopesCmd, findChannelCmd, joinChannelsCmd)
}
