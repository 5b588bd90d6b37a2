// Package pipeline sequences one end-to-end token acquisition: open a
// browser session, classify the challenge gate, solve and inject if needed,
// complete the login, and extract the token. Every stage runs under its own
// timeout and every run produces exactly one Outcome.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Hammad-tech/wellness/internal/browser"
	"github.com/Hammad-tech/wellness/internal/challenge"
	"github.com/Hammad-tech/wellness/internal/config"
	"github.com/Hammad-tech/wellness/pkg/models"
)

// Stage seams. Each concrete component satisfies one of these, and the tests
// swap in scripted fakes.
type (
	// Detector classifies a page snapshot.
	Detector interface {
		Classify(ps *browser.PageState) challenge.Detection
	}

	// Solver delegates a challenge to the external solving service.
	Solver interface {
		Solve(ctx context.Context, desc challenge.Descriptor) (*challenge.Solution, error)
	}

	// Injector applies a solution into the session.
	Injector interface {
		Inject(ctx context.Context, sess browser.Session, sol *challenge.Solution) error
	}

	// Completer performs the credential login.
	Completer interface {
		Login(ctx context.Context, sess browser.Session, creds config.Credentials) error
	}

	// Extractor reads the token artifact from the authenticated session.
	Extractor interface {
		Extract(ctx context.Context, sess browser.Session) (*models.AuthToken, error)
	}
)

// Deps bundles the stage implementations injected into a Runner.
type Deps struct {
	Driver    browser.Driver
	Detector  Detector
	Solver    Solver
	Injector  Injector
	Login     Completer
	Extractor Extractor

	// Fast is the optional no-browser attempt tried before the pipeline.
	Fast *FastPath
}

// Runner owns the pipeline state machine and the single retry policy: the
// whole pipeline retries for transient failures, individual stages never do
// (the solver's bounded poll retry lives inside the solver client).
type Runner struct {
	deps          Deps
	creds         config.Credentials
	loginURL      string
	timeouts      config.StageTimeouts
	extraAttempts int
	slots         *semaphore.Weighted
	logger        *zap.Logger
}

func NewRunner(cfg *config.Config, deps Deps, logger *zap.Logger) *Runner {
	return &Runner{
		deps:          deps,
		creds:         cfg.Credentials,
		loginURL:      cfg.LoginURL,
		timeouts:      cfg.Timeouts,
		extraAttempts: cfg.ExtraAttempts,
		slots:         semaphore.NewWeighted(cfg.MaxSessions),
		logger:        logger.Named("pipeline"),
	}
}

// Run executes one pipeline run and always returns a typed Outcome. The
// session slot is acquired before any browser work and released on every
// exit path; when no slot is free the run fails immediately with
// CapacityExceeded instead of queuing.
func (r *Runner) Run(ctx context.Context) models.Outcome {
	runID := uuid.NewString()
	log := r.logger.With(zap.String("runId", runID))

	if r.deps.Fast != nil {
		if tok, ok := r.deps.Fast.Attempt(ctx); ok {
			log.Info("token acquired on fast path")
			return models.Success(tok)
		}
	}

	if !r.slots.TryAcquire(1) {
		log.Warn("session capacity exhausted")
		return models.Failed(models.NewError(models.KindCapacityExceeded, models.StageOpen,
			"all browser session slots are in use"))
	}
	defer r.slots.Release(1)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		out := r.runOnce(ctx, log.With(zap.Int("attempt", attempt)))
		if out.Succeeded() {
			log.Info("run succeeded",
				zap.Int("attempt", attempt), zap.Duration("took", time.Since(start)))
			return out
		}

		kind := out.Failure.Kind
		if !kind.Transient() || attempt >= r.extraAttempts || ctx.Err() != nil {
			log.Warn("run failed",
				zap.String("errorKind", out.Failure.KindString()),
				zap.String("detail", out.Failure.Detail),
				zap.Int("attempt", attempt))
			return out
		}
		log.Info("retrying after transient failure",
			zap.String("errorKind", string(kind)), zap.Int("attempt", attempt))
	}
}

// runOnce walks the state machine for a single attempt. The session is
// closed on every exit path.
func (r *Runner) runOnce(ctx context.Context, log *zap.Logger) models.Outcome {
	openCtx, cancel := context.WithTimeout(ctx, r.timeouts.Open)
	sess, err := r.deps.Driver.Open(openCtx)
	cancel()
	if err != nil {
		return models.Failed(stageError(err, models.StageOpen,
			models.KindSessionStartFailure, "automation runtime failed to launch"))
	}
	defer sess.Close()
	log = log.With(zap.String("sessionId", sess.ID()))

	ps, perr := r.navigate(ctx, sess, models.StageNavigate)
	if perr != nil {
		return models.Failed(perr)
	}

	det := r.deps.Detector.Classify(ps)
	log.Debug("page classified", zap.String("result", string(det.Result)))

	switch det.Result {
	case challenge.ResultUnsupported:
		// Never call the paid solver for a challenge kind it cannot
		// solve.
		return models.Failed(models.NewError(models.KindUnsupportedChallenge,
			models.StageDetect, "challenge kind cannot be delegated to solver"))

	case challenge.ResultInteractive:
		if perr := r.cancelled(ctx, models.StageSolve); perr != nil {
			return models.Failed(perr)
		}

		solveCtx, cancel := context.WithTimeout(ctx, r.timeouts.Solve)
		sol, err := r.deps.Solver.Solve(solveCtx, *det.Descriptor)
		cancel()
		if err != nil {
			return models.Failed(stageError(err, models.StageSolve,
				models.KindSolverTimeout, "solve failed"))
		}

		injectCtx, cancel := context.WithTimeout(ctx, r.timeouts.Inject)
		err = r.deps.Injector.Inject(injectCtx, sess, sol)
		cancel()
		if err != nil {
			return models.Failed(stageError(err, models.StageInject,
				models.KindInjectionFailure, "solution was not accepted"))
		}

		// Injection alone does not guarantee the next load bypasses the
		// gate; reload and verify with a fresh classification.
		ps, perr = r.navigate(ctx, sess, models.StageVerify)
		if perr != nil {
			return models.Failed(perr)
		}
		if redet := r.deps.Detector.Classify(ps); redet.Result != challenge.ResultNone {
			return models.Failed(models.NewError(models.KindInjectionFailure,
				models.StageVerify, "challenge still present after injection"))
		}
	}

	if perr := r.cancelled(ctx, models.StageLogin); perr != nil {
		return models.Failed(perr)
	}

	loginCtx, cancel := context.WithTimeout(ctx, r.timeouts.Login)
	err = r.deps.Login.Login(loginCtx, sess, r.creds)
	cancel()
	if err != nil {
		return models.Failed(stageError(err, models.StageLogin,
			models.KindLoginTimeout, "login did not complete"))
	}

	if perr := r.cancelled(ctx, models.StageExtract); perr != nil {
		return models.Failed(perr)
	}

	extractCtx, cancel := context.WithTimeout(ctx, r.timeouts.Extract)
	tok, err := r.deps.Extractor.Extract(extractCtx, sess)
	cancel()
	if err != nil {
		return models.Failed(stageError(err, models.StageExtract,
			models.KindTokenNotFound, "no token artifact found"))
	}

	return models.Success(tok)
}

func (r *Runner) navigate(ctx context.Context, sess browser.Session, stage models.Stage) (*browser.PageState, *models.PipelineError) {
	if perr := r.cancelled(ctx, stage); perr != nil {
		return nil, perr
	}
	navCtx, cancel := context.WithTimeout(ctx, r.timeouts.Navigate)
	defer cancel()
	ps, err := sess.Navigate(navCtx, r.loginURL)
	if err != nil {
		return nil, stageError(err, stage, models.KindNavigationFailure, "page load failed")
	}
	return ps, nil
}

// cancelled observes caller cancellation between stages so a stalled run
// releases its session promptly instead of leaking it.
func (r *Runner) cancelled(ctx context.Context, stage models.Stage) *models.PipelineError {
	if err := ctx.Err(); err != nil {
		return models.WrapError(models.KindStageTimeout, stage, "run cancelled", err)
	}
	return nil
}

// stageError normalizes a stage failure into a PipelineError: typed errors
// pass through, a blown stage deadline becomes StageTimeout(stage), anything
// else gets the stage's default kind.
func stageError(err error, stage models.Stage, fallback models.ErrorKind, detail string) *models.PipelineError {
	if pe, ok := models.AsPipelineError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapError(models.KindStageTimeout, stage, "stage deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapError(models.KindStageTimeout, stage, "run cancelled", err)
	}
	return models.WrapError(fallback, stage, detail, err)
}
