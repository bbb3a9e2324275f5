package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vortex-9191/slack-question-bot/internal/signature"
)

var checkEnvCmd = &cobra.Command{
	Use:     "check-env",
	Short:   "Show the configuration qb and the service would use, secrets masked",
	GroupID: "diag",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		vars := cfg.Masked()
		var problems []string
		if err := cfg.Validate(slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
			problems = strings.Split(err.Error(), "\n")
		}

		render(map[string]any{"variables": vars, "valid": len(problems) == 0, "problems": problems}, func() {
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, vars[k]})
			}
			writeTable(os.Stdout, []string{"VARIABLE", "VALUE"}, rows)
			if len(problems) == 0 {
				fmt.Println(mark(true), "configuration is valid")
			}
			for _, p := range problems {
				fmt.Println(mark(false), p)
			}
			if !cfg.VerifySignatures {
				fmt.Println(badStyle.Render("warning: signature verification is disabled"))
			}
		})
		if len(problems) > 0 {
			os.Exit(1)
		}
	},
}

// tokenType names the kind of Slack token from its prefix.
func tokenType(token string) string {
	switch {
	case strings.HasPrefix(token, "xoxb-"):
		return "bot"
	case strings.HasPrefix(token, "xoxp-"):
		return "user"
	case strings.HasPrefix(token, "xapp-"):
		return "app-level"
	case token == "":
		return "none"
	default:
		return "unknown"
	}
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Short:   "Call auth.test and report who the token belongs to",
	GroupID: "diag",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		api := slackClient()
		resp, err := api.AuthTestContext(cmd.Context())
		if err != nil {
			fatalf("auth.test: %v", err)
		}
		info := map[string]string{
			"token_type": tokenType(cfg.BotToken),
			"team":       resp.Team,
			"team_id":    resp.TeamID,
			"user":       resp.User,
			"user_id":    resp.UserID,
			"bot_id":     resp.BotID,
			"url":        resp.URL,
		}
		render(info, func() {
			writeTable(os.Stdout, []string{"FIELD", "VALUE"}, [][]string{
				{"token type", info["token_type"]},
				{"team", resp.Team + " (" + resp.TeamID + ")"},
				{"user", resp.User + " (" + resp.UserID + ")"},
				{"bot id", resp.BotID},
				{"url", resp.URL},
			})
			if info["token_type"] != "bot" {
				fmt.Println(badStyle.Render("warning: SLACK_BOT_TOKEN should be a bot token (xoxb-)"))
			}
		})
	},
}

var signCmd = &cobra.Command{
	Use:   "sign [body]",
	Short: "Compute Slack request signature headers for a body",
	Long: `Compute the X-Slack-Request-Timestamp and X-Slack-Signature headers for a
request body, for replaying webhooks against a local server.

The body is the argument, or stdin when no argument is given.`,
	GroupID: "diag",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		secret, _ := cmd.Flags().GetString("secret")
		ts, _ := cmd.Flags().GetInt64("timestamp")
		if secret == "" {
			secret = cfg.SigningSecret
		}
		if secret == "" {
			fatalf("no signing secret: set SLACK_SIGNING_SECRET or pass --secret")
		}

		var body []byte
		if len(args) == 1 {
			body = []byte(args[0])
		} else {
			var err error
			body, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				fatalf("read body: %v", err)
			}
		}

		headers := signHeaders(secret, body, ts, time.Now())
		render(headers, func() {
			fmt.Printf("%s: %s\n", signature.HeaderTimestamp, headers[signature.HeaderTimestamp])
			fmt.Printf("%s: %s\n", signature.HeaderSignature, headers[signature.HeaderSignature])
		})
	},
}

// signHeaders returns the signature headers for body. A zero ts signs at now.
func signHeaders(secret string, body []byte, ts int64, now time.Time) map[string]string {
	if ts == 0 {
		ts = now.Unix()
	}
	timestamp := strconv.FormatInt(ts, 10)
	return map[string]string{
		signature.HeaderTimestamp: timestamp,
		signature.HeaderSignature: signature.Sign(secret, timestamp, body),
	}
}

func init() {
	signCmd.Flags().String("secret", "", "signing secret (default: $SLACK_SIGNING_SECRET)")
	signCmd.Flags().Int64("timestamp", 0, "unix timestamp to sign at (default: now)")

	rootCmd.AddCommand(checkEnvCmd, whoamiCmd, signCmd)
}
