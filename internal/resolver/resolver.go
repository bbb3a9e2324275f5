// Package resolver maps a doctor identifier to the single channel that
// should receive that doctor's questions.
//
// Resolution priority (first rule with a match wins):
//  1. Structured prefix: name matches ^d<digits>_<doctorID>_ (e.g. "d1_999_clinic")
//  2. Info suffix: name equals "<doctorID>_info" (e.g. "999_info")
//
// Anything else is NoMatch, which is a valid routing outcome rather than an
// error. The doctor identifier is untrusted input and is escaped before it
// becomes part of a pattern. Matching is case-sensitive.
package resolver

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/Vortex-9191/slack-question-bot/internal/directory"
)

// Rule produces the candidate channels for a doctor identifier. Rules do not
// choose among candidates; the Resolver does that deterministically.
type Rule interface {
	Name() string
	Candidates(doctorID string, channels []directory.Channel) []directory.Channel
}

// Result is the outcome of one resolution.
type Result struct {
	Channel    directory.Channel
	Matched    bool
	MatchedBy  string // rule name, for logging
	Candidates int    // how many channels the winning rule matched
}

// NoMatch is the zero Result.
var NoMatch = Result{}

// Resolver applies an ordered rule policy.
type Resolver struct {
	rules  []Rule
	logger *slog.Logger
}

// DefaultPolicy is structured-prefix first, then info-suffix.
func DefaultPolicy() []Rule {
	return []Rule{StructuredPrefix{}, InfoSuffix{}}
}

// New creates a Resolver. A nil rules slice uses DefaultPolicy.
func New(rules []Rule, logger *slog.Logger) *Resolver {
	if rules == nil {
		rules = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{rules: rules, logger: logger}
}

// Resolve picks at most one channel for doctorID. Given the same snapshot
// (in any order) and identifier it always returns the same Result.
func (r *Resolver) Resolve(doctorID string, channels []directory.Channel) Result {
	id := strings.TrimSpace(doctorID)
	if id == "" {
		return NoMatch
	}

	live := make([]directory.Channel, 0, len(channels))
	for _, ch := range channels {
		if !ch.IsArchived {
			live = append(live, ch)
		}
	}

	for _, rule := range r.rules {
		candidates := rule.Candidates(id, live)
		if len(candidates) == 0 {
			continue
		}
		pick := first(candidates)
		if len(candidates) > 1 {
			r.logger.Warn("ambiguous doctor channel match, using first by name",
				"doctor_id", id,
				"rule", rule.Name(),
				"candidates", len(candidates),
				"channel", pick.Name)
		}
		return Result{
			Channel:    pick,
			Matched:    true,
			MatchedBy:  rule.Name(),
			Candidates: len(candidates),
		}
	}
	return NoMatch
}

// first returns the lowest channel by name, then by ID, so the choice does
// not depend on the order Slack returned the listing in.
func first(chs []directory.Channel) directory.Channel {
	return slices.MinFunc(chs, func(a, b directory.Channel) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// StructuredPrefix matches the canonical ward-prefixed naming convention
// d<digits>_<doctorID>_<anything>.
type StructuredPrefix struct{}

func (StructuredPrefix) Name() string { return "structured_prefix" }

func (StructuredPrefix) Candidates(doctorID string, channels []directory.Channel) []directory.Channel {
	re, err := regexp.Compile(`^d\d+_` + regexp.QuoteMeta(doctorID) + `_`)
	if err != nil {
		return nil
	}
	var out []directory.Channel
	for _, ch := range channels {
		if re.MatchString(ch.Name) {
			out = append(out, ch)
		}
	}
	return out
}

// InfoSuffix matches a channel named exactly <doctorID>_info.
type InfoSuffix struct{}

func (InfoSuffix) Name() string { return "info_suffix" }

func (InfoSuffix) Candidates(doctorID string, channels []directory.Channel) []directory.Channel {
	want := doctorID + "_info"
	var out []directory.Channel
	for _, ch := range channels {
		if ch.Name == want {
			out = append(out, ch)
		}
	}
	return out
}
