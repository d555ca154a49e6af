// Package captcha verifies reCAPTCHA tokens submitted with registration and login.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/errs"
)

// Verifier checks a client-supplied challenge response.
type Verifier interface {
	Verify(ctx context.Context, response, remoteIP string) error
}

// Disabled accepts everything; used when no secret is configured.
type Disabled struct{}

// Verify always succeeds.
func (Disabled) Verify(context.Context, string, string) error { return nil }

// Recaptcha calls the siteverify endpoint.
type Recaptcha struct {
	secret    string
	verifyURL string
	client    *http.Client
	log       *zap.Logger
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// New returns Disabled when secret is empty, otherwise a Recaptcha verifier.
func New(secret, verifyURL string, log *zap.Logger) Verifier {
	if secret == "" {
		return Disabled{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recaptcha{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log,
	}
}

// Verify fails with errs.ErrCaptchaFailed when the response is missing or rejected.
func (r *Recaptcha) Verify(ctx context.Context, response, remoteIP string) error {
	if strings.TrimSpace(response) == "" {
		return errs.ErrCaptchaFailed
	}
	form := url.Values{"secret": {r.secret}, "response": {response}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha: unexpected status %d", resp.StatusCode)
	}
	var out siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("captcha: decode: %w", err)
	}
	if !out.Success {
		r.log.Info("captcha rejected", zap.Strings("codes", out.ErrorCodes))
		return errs.ErrCaptchaFailed
	}
	return nil
}
