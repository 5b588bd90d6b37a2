package challenge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/browser"
	"github.com/Hammad-tech/wellness/pkg/models"
)

// maxSolutionAge is how long a Turnstile response token stays usable.
// Turnstile tokens are valid for 300 seconds; the origin rejects older ones,
// so injecting one is pointless.
const maxSolutionAge = 300 * time.Second

// Injector writes a challenge solution into the page so the origin accepts
// the session as having passed the gate. Injection alone does not guarantee
// the next page load bypasses the challenge; the orchestrator re-verifies
// with a fresh Detector pass before advancing.
type Injector struct {
	logger *zap.Logger
}

func NewInjector(logger *zap.Logger) *Injector {
	return &Injector{logger: logger.Named("injector")}
}

// Inject applies sol to the session's current page. Fails with
// InjectionFailure when the solution is stale, malformed, or the page has no
// slot to accept it.
func (i *Injector) Inject(ctx context.Context, sess browser.Session, sol *Solution) error {
	if sol == nil || sol.Payload == "" {
		return models.NewError(models.KindInjectionFailure, models.StageInject,
			"empty solution payload")
	}
	if age := time.Since(sol.IssuedAt); age > maxSolutionAge {
		return models.NewError(models.KindInjectionFailure, models.StageInject,
			fmt.Sprintf("solution stale (issued %s ago)", age.Round(time.Second)))
	}

	script := fmt.Sprintf(`(() => {
		const token = %s;
		const input = document.querySelector('input[name="cf-turnstile-response"]');
		if (input) { input.value = token; }
		let delivered = !!input;
		if (window.turnstile && typeof window.tsCallback === "function") {
			window.tsCallback(token);
			delivered = true;
		}
		const form = input ? input.closest("form") : null;
		if (form && typeof form.requestSubmit === "function") {
			form.requestSubmit();
		}
		return delivered;
	})()`, strconv.Quote(sol.Payload))

	var delivered bool
	if err := sess.Evaluate(ctx, script, &delivered); err != nil {
		return models.WrapError(models.KindInjectionFailure, models.StageInject,
			"solution script failed", err)
	}
	if !delivered {
		return models.NewError(models.KindInjectionFailure, models.StageInject,
			"page offered no challenge response slot")
	}

	i.logger.Debug("solution injected",
		zap.String("sessionId", sess.ID()),
		zap.String("taskId", sol.TaskID))
	return nil
}
