// Package solver talks to the external challenge-solving service. The
// service speaks the 2Captcha-style task protocol: createTask returns a task
// id, getTaskResult is polled until the task is ready or rejected.
//
// This is the only component that calls a metered paid API, so exactly one
// solve runs per pipeline run and the task id is logged on every path for
// billing reconciliation.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/challenge"
	"github.com/Hammad-tech/wellness/pkg/models"
)

// transientPollBudget caps retries of poll calls that fail on the network
// level. A terminal "cannot solve" reply from the service is never retried.
const transientPollBudget = 3

// taskResponse is the shape of both createTask and getTaskResult replies.
type taskResponse struct {
	ErrorID          int            `json:"errorId"`
	ErrorCode        string         `json:"errorCode"`
	ErrorDescription string         `json:"errorDescription"`
	TaskID           int64          `json:"taskId"`
	Status           string         `json:"status"`
	Solution         map[string]any `json:"solution"`
}

// Client submits challenges and polls for their solutions.
type Client struct {
	apiKey       string
	baseURL      string
	httpc        *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

func New(apiKey, baseURL string, pollInterval time.Duration, logger *zap.Logger) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		httpc:        &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		logger:       logger.Named("solver"),
	}
}

// Solve submits desc and blocks until the service answers, the service
// declines, or ctx expires. The caller bounds the allotted window through
// ctx; expiry maps to SolverTimeout, a decline to SolverRejected.
func (c *Client) Solve(ctx context.Context, desc challenge.Descriptor) (*challenge.Solution, error) {
	taskID, err := c.createTask(ctx, desc)
	if err != nil {
		return nil, err
	}
	log := c.logger.With(zap.String("taskId", strconv.FormatInt(taskID, 10)))
	log.Info("challenge submitted",
		zap.String("kind", desc.Kind), zap.String("pageUrl", desc.PageURL))

	sol, err := c.pollResult(ctx, taskID)
	if err != nil {
		log.Warn("solve failed", zap.Error(err))
		return nil, err
	}
	log.Info("challenge solved")
	return sol, nil
}

func (c *Client) createTask(ctx context.Context, desc challenge.Descriptor) (int64, error) {
	res, err := c.post(ctx, "/createTask", map[string]any{
		"clientKey": c.apiKey,
		"task": map[string]any{
			"type":       "TurnstileTaskProxyless",
			"websiteURL": desc.PageURL,
			"websiteKey": desc.SiteKey,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, models.WrapError(models.KindSolverTimeout, models.StageSolve,
				"submit window expired", err)
		}
		return 0, models.WrapError(models.KindSolverRejected, models.StageSolve,
			"submit failed", err)
	}
	if res.ErrorID != 0 {
		return 0, models.NewError(models.KindSolverRejected, models.StageSolve,
			fmt.Sprintf("service declined task: %s - %s", res.ErrorCode, res.ErrorDescription))
	}
	return res.TaskID, nil
}

func (c *Client) pollResult(ctx context.Context, taskID int64) (*challenge.Solution, error) {
	id := strconv.FormatInt(taskID, 10)
	failures := 0

	for {
		// Linear backoff: each consecutive transport failure stretches
		// the wait by one extra interval.
		wait := c.pollInterval * time.Duration(1+failures)
		select {
		case <-ctx.Done():
			return nil, models.WrapError(models.KindSolverTimeout, models.StageSolve,
				fmt.Sprintf("no answer for task %s within window", id), ctx.Err())
		case <-time.After(wait):
		}

		res, err := c.post(ctx, "/getTaskResult", map[string]any{
			"clientKey": c.apiKey,
			"taskId":    taskID,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, models.WrapError(models.KindSolverTimeout, models.StageSolve,
					fmt.Sprintf("no answer for task %s within window", id), ctx.Err())
			}
			failures++
			if failures > transientPollBudget {
				return nil, models.WrapError(models.KindSolverTimeout, models.StageSolve,
					fmt.Sprintf("poll for task %s failed %d times", id, failures), err)
			}
			continue
		}
		if res.ErrorID != 0 {
			// Codes like ERROR_NO_SLOT_AVAILABLE clear up on their own;
			// those burn the transient budget instead of failing the run.
			if !IsTerminalCode(res.ErrorCode) && failures < transientPollBudget {
				failures++
				continue
			}
			return nil, models.NewError(models.KindSolverRejected, models.StageSolve,
				fmt.Sprintf("task %s rejected: %s - %s", id, res.ErrorCode, res.ErrorDescription))
		}
		failures = 0
		if res.Status != "ready" {
			continue
		}

		payload := solutionToken(res.Solution)
		if payload == "" {
			return nil, models.NewError(models.KindSolverRejected, models.StageSolve,
				fmt.Sprintf("task %s returned empty solution payload", id))
		}
		return &challenge.Solution{
			Payload:  payload,
			TaskID:   id,
			IssuedAt: time.Now(),
		}, nil
	}
}

// solutionToken digs the response token out of the solution object. Field
// name differs between challenge families.
func solutionToken(solution map[string]any) string {
	for _, field := range []string{"token", "gRecaptchaResponse"} {
		if v, ok := solution[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// terminalCodes are service errors no retry can fix.
var terminalCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_CAPTCHA_UNSOLVABLE",
	"ERROR_IP_BANNED",
}

// IsTerminalCode reports whether a service error code rules out retrying.
func IsTerminalCode(code string) bool {
	return slices.Contains(terminalCodes, code)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*taskResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solver API returned %d", resp.StatusCode)
	}

	var res taskResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Join(fmt.Errorf("malformed solver reply"), err)
	}
	return &res, nil
}
