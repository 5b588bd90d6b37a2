// Package login submits credentials through the unblocked page and waits for
// a positive post-login marker. Success is never inferred from the mere
// absence of an error page.
package login

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/browser"
	"github.com/Hammad-tech/wellness/internal/challenge"
	"github.com/Hammad-tech/wellness/internal/config"
	"github.com/Hammad-tech/wellness/pkg/models"
)

// Form selectors for the target origin's login page.
const (
	identifierSelector = `input[name="client_id"], input[name="username"], #client_id`
	secretSelector     = `input[name="client_secret"], input[name="password"], #client_secret`
	submitSelector     = `form button[type="submit"], form input[type="submit"]`
)

const probeInterval = 500 * time.Millisecond

// Completer drives the credential form and observes the page until a
// confirming state appears.
type Completer struct {
	detector      *challenge.Detector
	successPath   string
	sessionCookie string
	failureMarker string
	logger        *zap.Logger
}

func NewCompleter(cfg *config.Config, detector *challenge.Detector, logger *zap.Logger) *Completer {
	return &Completer{
		detector:      detector,
		successPath:   cfg.SuccessPath,
		sessionCookie: cfg.SessionCookie,
		failureMarker: cfg.FailureMarker,
		logger:        logger.Named("login"),
	}
}

// Login fills and submits the credential form, then polls for the post-login
// state. Outcomes: nil on a positive marker, InvalidCredentials on explicit
// rejection, UnexpectedChallenge when a fresh challenge appears post-submit,
// LoginTimeout when ctx expires with no confirming state.
func (c *Completer) Login(ctx context.Context, sess browser.Session, creds config.Credentials) error {
	if err := c.submit(ctx, sess, creds); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return models.WrapError(models.KindLoginTimeout, models.StageLogin,
				"no confirming state within window", ctx.Err())
		case <-time.After(probeInterval):
		}

		state, err := c.probe(ctx, sess)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return models.WrapError(models.KindLoginTimeout, models.StageLogin,
					"no confirming state within window", err)
			}
			// Mid-navigation evaluation races resolve on the next probe.
			c.logger.Debug("probe failed, retrying", zap.Error(err))
			continue
		}

		// Anti-bot escalation after submit is terminal: repeated login
		// attempts against a real account risk lockout.
		if det := c.detector.Classify(state); det.Result != challenge.ResultNone {
			return models.NewError(models.KindUnexpectedChallenge, models.StageLogin,
				"challenge appeared after credential submit")
		}

		if c.failureMarker != "" && strings.Contains(state.HTML, c.failureMarker) {
			return models.NewError(models.KindInvalidCredentials, models.StageLogin,
				"origin rejected credentials")
		}

		ok, err := c.confirmed(ctx, sess, state)
		if err != nil {
			c.logger.Debug("confirmation check failed, retrying", zap.Error(err))
			continue
		}
		if ok {
			c.logger.Info("login confirmed",
				zap.String("sessionId", sess.ID()), zap.String("url", state.URL))
			return nil
		}
	}
}

// submit types the credentials into the form and submits it.
func (c *Completer) submit(ctx context.Context, sess browser.Session, creds config.Credentials) error {
	script := fmt.Sprintf(`(() => {
		const id = document.querySelector(%s);
		const secret = document.querySelector(%s);
		if (!id || !secret) { return false; }
		const set = (el, v) => {
			el.value = v;
			el.dispatchEvent(new Event("input", { bubbles: true }));
			el.dispatchEvent(new Event("change", { bubbles: true }));
		};
		set(id, %s);
		set(secret, %s);
		const button = document.querySelector(%s);
		if (button) { button.click(); }
		else if (id.form) { id.form.submit(); }
		else { return false; }
		return true;
	})()`,
		strconv.Quote(identifierSelector),
		strconv.Quote(secretSelector),
		strconv.Quote(creds.ClientID),
		strconv.Quote(creds.ClientSecret),
		strconv.Quote(submitSelector),
	)

	var submitted bool
	if err := sess.Evaluate(ctx, script, &submitted); err != nil {
		return models.WrapError(models.KindLoginTimeout, models.StageLogin,
			"credential submit failed", err)
	}
	if !submitted {
		return models.NewError(models.KindLoginTimeout, models.StageLogin,
			"login form not present on page")
	}
	return nil
}

// probe snapshots the live page without navigating.
func (c *Completer) probe(ctx context.Context, sess browser.Session) (*browser.PageState, error) {
	var state struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		HTML  string `json:"html"`
	}
	err := sess.Evaluate(ctx, `({
		url: location.href,
		title: document.title,
		html: document.documentElement.outerHTML,
	})`, &state)
	if err != nil {
		return nil, err
	}
	return &browser.PageState{URL: state.URL, Title: state.Title, HTML: state.HTML}, nil
}

// confirmed checks the positive markers: a redirect onto the success path or
// the origin's session cookie.
func (c *Completer) confirmed(ctx context.Context, sess browser.Session, state *browser.PageState) (bool, error) {
	if c.successPath != "" && strings.Contains(state.URL, c.successPath) {
		return true, nil
	}
	if c.sessionCookie == "" {
		return false, nil
	}

	cookies, err := sess.Cookies(ctx)
	if err != nil {
		return false, err
	}
	for _, ck := range cookies {
		if ck.Name == c.sessionCookie && ck.Value != "" {
			return true, nil
		}
	}
	return false, nil
}
