package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/config"
	"github.com/Hammad-tech/wellness/pkg/models"
)

// FastPath is the no-browser attempt: a plain credential POST against the
// token endpoint. When the gate is down or the bypass header is honored this
// answers in one round trip and no session slot is spent. Any other reply
// falls through to the browser pipeline.
type FastPath struct {
	httpc        *http.Client
	tokenURL     string
	creds        config.Credentials
	bypassHeader string
	logger       *zap.Logger
}

func NewFastPath(cfg *config.Config, logger *zap.Logger) *FastPath {
	return &FastPath{
		httpc:        &http.Client{Timeout: 20 * time.Second},
		tokenURL:     cfg.TokenURL,
		creds:        cfg.Credentials,
		bypassHeader: cfg.BypassHeader,
		logger:       logger.Named("fastpath"),
	}
}

// Attempt returns (token, true) only on a clean token reply. Every failure
// is soft: the caller proceeds with the browser pipeline.
func (f *FastPath) Attempt(ctx context.Context) (*models.AuthToken, bool) {
	form := url.Values{
		"client_id":     {f.creds.ClientID},
		"client_secret": {f.creds.ClientSecret},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if f.bypassHeader != "" {
		req.Header.Set("x-firewall-rule", f.bypassHeader)
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		f.logger.Debug("fast path request failed", zap.Error(err))
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false
	}

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(string(body), "Just a moment") ||
			strings.Contains(string(body), "cf-challenge") {
			f.logger.Info("challenge gate active, switching to browser pipeline")
		} else {
			f.logger.Debug("fast path rejected", zap.Int("status", resp.StatusCode))
		}
		return nil, false
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &reply); err != nil || reply.AccessToken == "" {
		f.logger.Debug("fast path reply was not a token")
		return nil, false
	}

	tok := &models.AuthToken{Value: reply.AccessToken, Kind: models.TokenKindBearer}
	if reply.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(reply.ExpiresIn) * time.Second).UTC()
		tok.ExpiresAt = &exp
	}
	return tok, true
}
