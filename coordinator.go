package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default refresh endpoint and timeout.
const (
	DefaultRefreshPath    = "/users/refresh-token"
	DefaultRefreshTimeout = 10 * time.Second
)

const refreshKey = "refresh"

// refreshResponse is the body of a successful refresh call
type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Coordinator runs the token refresh state machine.
//
// At most one refresh call is in flight at any time. Every caller that
// reports a 401 while a refresh is pending joins that refresh and receives
// its outcome: nil means retry with the new token, an error means the
// request fails. On failure the stored credentials are wiped and State is
// logged out before any waiter is released.
type Coordinator struct {
	vault   *vault
	state   *State
	client  *http.Client // never wrapped by refreshTransport
	url     string
	timeout time.Duration
	logger  *slog.Logger

	flight singleflight.Group
}

// Refresh is called after a request sent with staleToken came back 401.
// It blocks until the pending refresh (started by this caller or joined)
// completes, or until ctx ends.
//
// A joined refresh may have been started for an older token and skipped the
// network call. If staleToken is still the stored token afterwards, the
// caller starts or joins one more refresh of its own.
func (c *Coordinator) Refresh(ctx context.Context, staleToken string) error {
	for attempt := 0; attempt < 2; attempt++ {
		ch := c.flight.DoChan(refreshKey, func() (any, error) {
			return nil, c.refresh(staleToken)
		})

		select {
		case res := <-ch:
			if res.Err != nil || !res.Shared {
				return res.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if c.vault.load().AccessToken != staleToken {
			return nil
		}
	}
	return nil
}

func (c *Coordinator) refresh(staleToken string) error {
	cred, epoch := c.vault.loadWithEpoch()

	// The token that failed was already replaced by a refresh that finished
	// before this one started; the caller only needs to retry.
	if cred.HasAccessToken() && cred.AccessToken != staleToken {
		c.logger.Debug("access token already refreshed, skipping refresh call")
		return nil
	}

	if !cred.HasRefreshToken() {
		return c.fail(epoch, errors.New("no refresh token stored"))
	}

	c.logger.Info("refreshing access token", "credential", cred)

	ctx, cancel := context.WithTimeout(withRefreshCall(context.Background()), c.timeout)
	defer cancel()

	tokens, err := c.requestTokens(ctx, cred.RefreshToken)
	if err != nil {
		return c.fail(epoch, err)
	}

	return c.commit(epoch, cred, tokens)
}

// requestTokens performs POST <refresh path> with the refresh token as bearer.
func (c *Coordinator) requestTokens(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		return nil, fmt.Errorf("refresh rejected: HTTP %d", resp.StatusCode)
	}

	var tokens refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, &DecodingError{Err: err}
	}
	if tokens.Token == "" {
		return nil, &DecodingError{Field: "token", Type: "missing", Err: errors.New("refresh response has no access token")}
	}
	return &tokens, nil
}

// commit stores the new tokens unless the session changed underneath us.
func (c *Coordinator) commit(epoch uint64, old Credential, tokens *refreshResponse) error {
	c.vault.mu.Lock()
	defer c.vault.mu.Unlock()

	if c.vault.epoch != epoch {
		c.logger.Info("discarding refresh result, session changed while refreshing")
		return fmt.Errorf("%w: session ended during refresh", ErrAuthenticationFailed)
	}

	next := Credential{
		AccessToken:  tokens.Token,
		RefreshToken: tokens.RefreshToken,
		UserID:       old.UserID,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = old.RefreshToken
	}

	if err := c.vault.writeLocked(next); err != nil {
		c.logger.Warn("failed to store refreshed credential", "err", err)
		return err
	}

	c.state.Login(next.UserID)
	c.logger.Info("access token refreshed", "rotated_refresh_token", tokens.RefreshToken != "")
	return nil
}

// fail applies the logout cascade and returns the error every waiter gets.
func (c *Coordinator) fail(epoch uint64, cause error) error {
	c.vault.mu.Lock()
	defer c.vault.mu.Unlock()

	if c.vault.epoch == epoch {
		c.logger.Warn("token refresh failed, logging out", "reason", cause)
		if err := c.vault.wipeLocked(); err != nil {
			c.logger.Warn("failed to clear stored credentials", "err", err)
		}
		c.state.Logout()
	}
	return fmt.Errorf("%w: %v", ErrAuthenticationFailed, cause)
}
