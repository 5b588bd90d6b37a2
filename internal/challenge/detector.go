// Package challenge classifies bot-challenge pages and applies solver
// results back into the browser session.
package challenge

import (
	"regexp"
	"strings"
	"time"

	"github.com/Hammad-tech/wellness/internal/browser"
)

// Result is the outcome of classifying a page.
type Result string

const (
	// ResultNone means no challenge markers are present.
	ResultNone Result = "none"
	// ResultInteractive means a solvable widget with extractable
	// parameters is on the page.
	ResultInteractive Result = "interactive"
	// ResultUnsupported means challenge markers are present but the
	// challenge kind cannot be delegated to the solver.
	ResultUnsupported Result = "unsupported"
)

// Descriptor carries everything the solving service needs about one
// challenge instance. Immutable once produced.
type Descriptor struct {
	Kind    string
	SiteKey string
	PageURL string
}

// Solution is the solver's answer for one Descriptor. Single-use: it is
// applied to exactly one session and never cached beyond one pipeline run.
type Solution struct {
	Payload  string
	TaskID   string
	IssuedAt time.Time
}

// Detection pairs a Result with the Descriptor for interactive challenges.
type Detection struct {
	Result     Result
	Descriptor *Descriptor
}

var (
	siteKeyAttrRe  = regexp.MustCompile(`data-sitekey=["']([0-9A-Za-z_-]+)["']`)
	siteKeyParamRe = regexp.MustCompile(`sitekey=([0-9A-Za-z_-]+)`)
)

// challengeMarkers are page fragments known to indicate a Cloudflare-style
// challenge gate. Marker checks run on the page snapshot only.
var challengeMarkers = []string{
	"challenges.cloudflare.com",
	"cf-turnstile",
	"cf-challenge",
	"_cf_chl_opt",
	"cf_chl_",
}

// Detector classifies page snapshots. Classification is a pure inspection:
// the same PageState always yields the same Detection.
type Detector struct{}

func NewDetector() *Detector { return &Detector{} }

// Classify inspects ps for challenge markers. When markers are ambiguous it
// classifies Unsupported rather than guessing: proceeding into login on an
// unresolved challenge produces a far more confusing downstream failure than
// a conservative bail-out here.
func (d *Detector) Classify(ps *browser.PageState) Detection {
	if !hasChallengeMarkers(ps) {
		return Detection{Result: ResultNone}
	}

	if key := extractSiteKey(ps.HTML); key != "" {
		return Detection{
			Result: ResultInteractive,
			Descriptor: &Descriptor{
				Kind:    "turnstile",
				SiteKey: key,
				PageURL: ps.URL,
			},
		}
	}

	return Detection{Result: ResultUnsupported}
}

func hasChallengeMarkers(ps *browser.PageState) bool {
	if strings.Contains(ps.Title, "Just a moment") {
		return true
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(ps.HTML, marker) {
			return true
		}
	}
	return false
}

// extractSiteKey pulls the Turnstile site key from either the widget's
// data-sitekey attribute or the challenge iframe URL.
func extractSiteKey(html string) string {
	if m := siteKeyAttrRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if !strings.Contains(html, "challenges.cloudflare.com") {
		return ""
	}
	if m := siteKeyParamRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}
