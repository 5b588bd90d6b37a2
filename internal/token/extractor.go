// Package token reads the authentication artifact out of an authenticated
// session and normalizes it, whether the origin exposed it as a cookie or a
// local-storage value.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/browser"
	"github.com/Hammad-tech/wellness/pkg/models"
)

// Extractor locates the token artifact. A missing artifact after a confirmed
// login is a contract violation by the origin, not something to retry.
type Extractor struct {
	cookieName string
	storageKey string
	logger     *zap.Logger
}

func NewExtractor(cookieName, storageKey string, logger *zap.Logger) *Extractor {
	return &Extractor{
		cookieName: cookieName,
		storageKey: storageKey,
		logger:     logger.Named("token"),
	}
}

// Extract checks the token cookie first, then the local-storage fallback.
func (e *Extractor) Extract(ctx context.Context, sess browser.Session) (*models.AuthToken, error) {
	if tok, err := e.fromCookie(ctx, sess); err != nil {
		return nil, err
	} else if tok != nil {
		e.logger.Debug("token extracted from cookie", zap.String("sessionId", sess.ID()))
		return tok, nil
	}

	if tok, err := e.fromStorage(ctx, sess); err != nil {
		return nil, err
	} else if tok != nil {
		e.logger.Debug("token extracted from storage", zap.String("sessionId", sess.ID()))
		return tok, nil
	}

	return nil, models.NewError(models.KindTokenNotFound, models.StageExtract,
		fmt.Sprintf("no %q cookie and no %q storage entry after login", e.cookieName, e.storageKey))
}

func (e *Extractor) fromCookie(ctx context.Context, sess browser.Session) (*models.AuthToken, error) {
	if e.cookieName == "" {
		return nil, nil
	}
	cookies, err := sess.Cookies(ctx)
	if err != nil {
		return nil, models.WrapError(models.KindTokenNotFound, models.StageExtract,
			"cookie read failed", err)
	}
	for _, ck := range cookies {
		if ck.Name != e.cookieName || ck.Value == "" {
			continue
		}
		tok := &models.AuthToken{Value: ck.Value, Kind: models.TokenKindCookie}
		// Expires <= 0 marks a session cookie with no expiry hint.
		if ck.Expires > 0 {
			exp := time.Unix(int64(ck.Expires), 0).UTC()
			tok.ExpiresAt = &exp
		}
		return tok, nil
	}
	return nil, nil
}

// storedToken matches the OAuth-style JSON some origins keep in storage.
type storedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (e *Extractor) fromStorage(ctx context.Context, sess browser.Session) (*models.AuthToken, error) {
	if e.storageKey == "" {
		return nil, nil
	}
	var raw string
	expr := fmt.Sprintf(`(window.localStorage.getItem(%q) || "")`, e.storageKey)
	if err := sess.Evaluate(ctx, expr, &raw); err != nil {
		return nil, models.WrapError(models.KindTokenNotFound, models.StageExtract,
			"storage read failed", err)
	}
	if raw == "" {
		return nil, nil
	}

	var stored storedToken
	if err := json.Unmarshal([]byte(raw), &stored); err == nil && stored.AccessToken != "" {
		tok := &models.AuthToken{Value: stored.AccessToken, Kind: models.TokenKindBearer}
		if stored.ExpiresIn > 0 {
			exp := time.Now().Add(time.Duration(stored.ExpiresIn) * time.Second).UTC()
			tok.ExpiresAt = &exp
		}
		return tok, nil
	}

	// Opaque storage value: treat it as the bearer token itself.
	return &models.AuthToken{Value: raw, Kind: models.TokenKindBearer}, nil
}
