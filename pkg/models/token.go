package models

import "time"

// TokenKind says where the authentication artifact came from.
type TokenKind string

const (
	TokenKindCookie TokenKind = "cookie"
	TokenKindHeader TokenKind = "header"
	TokenKindBearer TokenKind = "bearer"
)

// AuthToken is the pipeline's terminal artifact. The core never persists it;
// callers are responsible for their own caching.
type AuthToken struct {
	Value     string     `json:"value"`
	Kind      TokenKind  `json:"kind"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Outcome is the single result of one pipeline run: a token or a typed
// failure, never both.
type Outcome struct {
	Token   *AuthToken
	Failure *PipelineError
}

func Success(token *AuthToken) Outcome {
	return Outcome{Token: token}
}

func Failed(err *PipelineError) Outcome {
	return Outcome{Failure: err}
}

func (o Outcome) Succeeded() bool { return o.Failure == nil && o.Token != nil }

// TokenResponse is the 200 body of GET /get-token.
type TokenResponse struct {
	Token     string     `json:"token"`
	TokenKind string     `json:"tokenKind"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ErrorResponse mirrors Outcome.Failure on the wire.
type ErrorResponse struct {
	ErrorKind string `json:"errorKind"`
	Detail    string `json:"detail"`
}
