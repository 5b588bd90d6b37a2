package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/challenge"
	"github.com/Hammad-tech/wellness/pkg/models"
)

var testDescriptor = challenge.Descriptor{
	Kind:    "turnstile",
	SiteKey: "0x4AAAAAAADnPIDROzbs0Aaj",
	PageURL: "https://origin.test/login",
}

// solverStub scripts the createTask/getTaskResult endpoints.
type solverStub struct {
	mu          sync.Mutex
	createReply map[string]any
	pollReplies []any // map[string]any per poll, or http status int for a broken reply
	createCalls int
	pollCalls   int
}

func (s *solverStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.createCalls++
		json.NewEncoder(w).Encode(s.createReply)
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pollCalls++
		var reply any = map[string]any{"errorId": 0, "status": "processing"}
		if len(s.pollReplies) > 0 {
			reply = s.pollReplies[0]
			s.pollReplies = s.pollReplies[1:]
		}
		if status, ok := reply.(int); ok {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(reply)
	})
	return mux
}

func newTestClient(t *testing.T, stub *solverStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return New("test-key", srv.URL, 10*time.Millisecond, zap.NewNop())
}

func okCreate() map[string]any {
	return map[string]any{"errorId": 0, "taskId": 4242}
}

func readyReply(token string) map[string]any {
	return map[string]any{
		"errorId":  0,
		"status":   "ready",
		"solution": map[string]any{"token": token},
	}
}

func TestSolveReturnsSolutionAfterPolling(t *testing.T) {
	stub := &solverStub{
		createReply: okCreate(),
		pollReplies: []any{
			map[string]any{"errorId": 0, "status": "processing"},
			map[string]any{"errorId": 0, "status": "processing"},
			readyReply("0.solved"),
		},
	}
	c := newTestClient(t, stub)

	sol, err := c.Solve(context.Background(), testDescriptor)

	require.NoError(t, err)
	assert.Equal(t, "0.solved", sol.Payload)
	assert.Equal(t, "4242", sol.TaskID)
	assert.WithinDuration(t, time.Now(), sol.IssuedAt, time.Minute)
	assert.Equal(t, 1, stub.createCalls, "one outstanding solve per run")
	assert.Equal(t, 3, stub.pollCalls)
}

func TestSolveRejectedAtSubmit(t *testing.T) {
	stub := &solverStub{
		createReply: map[string]any{
			"errorId":          1,
			"errorCode":        "ERROR_WRONG_USER_KEY",
			"errorDescription": "key is invalid",
		},
	}
	c := newTestClient(t, stub)

	_, err := c.Solve(context.Background(), testDescriptor)

	pe, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindSolverRejected, pe.Kind)
	assert.Equal(t, 0, stub.pollCalls, "a declined submit must not be polled")
}

func TestSolveRejectedWhilePolling(t *testing.T) {
	stub := &solverStub{
		createReply: okCreate(),
		pollReplies: []any{
			map[string]any{"errorId": 0, "status": "processing"},
			map[string]any{
				"errorId":          1,
				"errorCode":        "ERROR_CAPTCHA_UNSOLVABLE",
				"errorDescription": "cannot solve",
			},
		},
	}
	c := newTestClient(t, stub)

	_, err := c.Solve(context.Background(), testDescriptor)

	pe, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindSolverRejected, pe.Kind)
	assert.Equal(t, 2, stub.pollCalls, "terminal service errors are not retried")
}

func TestSolveTimesOutWithoutAnswer(t *testing.T) {
	stub := &solverStub{createReply: okCreate()} // polls answer "processing" forever
	c := newTestClient(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Solve(ctx, testDescriptor)

	pe, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindSolverTimeout, pe.Kind)
}

func TestSolveRetriesTransientPollFailures(t *testing.T) {
	stub := &solverStub{
		createReply: okCreate(),
		pollReplies: []any{
			http.StatusBadGateway,
			http.StatusBadGateway,
			readyReply("0.solved-eventually"),
		},
	}
	c := newTestClient(t, stub)

	sol, err := c.Solve(context.Background(), testDescriptor)

	require.NoError(t, err)
	assert.Equal(t, "0.solved-eventually", sol.Payload)
	assert.Equal(t, 3, stub.pollCalls)
}

func TestSolvePersistentServiceErrorExhaustsBudget(t *testing.T) {
	noSlot := map[string]any{
		"errorId":   1,
		"errorCode": "ERROR_NO_SLOT_AVAILABLE",
	}
	stub := &solverStub{
		createReply: okCreate(),
		pollReplies: []any{noSlot, noSlot, noSlot, noSlot, noSlot},
	}
	c := newTestClient(t, stub)

	_, err := c.Solve(context.Background(), testDescriptor)

	pe, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindSolverRejected, pe.Kind)
	assert.Equal(t, 4, stub.pollCalls, "budget bounds retries of retryable service errors")
}

func TestSolveRejectsEmptySolutionPayload(t *testing.T) {
	stub := &solverStub{
		createReply: okCreate(),
		pollReplies: []any{readyReply("")},
	}
	c := newTestClient(t, stub)

	_, err := c.Solve(context.Background(), testDescriptor)

	pe, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindSolverRejected, pe.Kind)
}

func TestIsTerminalCode(t *testing.T) {
	assert.True(t, IsTerminalCode("ERROR_ZERO_BALANCE"))
	assert.True(t, IsTerminalCode("ERROR_CAPTCHA_UNSOLVABLE"))
	assert.False(t, IsTerminalCode("ERROR_NO_SLOT_AVAILABLE"))
}
