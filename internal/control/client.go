package control

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/trading/engine"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Client talks to a control server over its unix socket.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the socket at path.
func NewClient(socket string, timeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer

			return d.DialContext(ctx, "unix", socket)
		},
	}

	return &Client{
		http: resty.New().
			SetTransport(transport).
			SetBaseURL("http://control").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Stop asks the live core to stop gracefully.
func (c *Client) Stop(ctx context.Context, token string) error {
	var body response

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(TokenHeader, token).
		SetResult(&body).
		SetError(&body).
		Post("/stop")
	if err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "stop request failed", err)
	}

	switch resp.StatusCode() {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusForbidden:
		return errors.New(errors.ErrCodeInvalidToken, "control server rejected the token")
	default:
		return errors.Newf(errors.ErrCodeControlFailed, "stop request returned %d: %s", resp.StatusCode(), body.Error)
	}
}

// SetRoster replaces the symbols traded by the running live core.
func (c *Client) SetRoster(ctx context.Context, token string, symbols []string) error {
	var body response

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(TokenHeader, token).
		SetBody(RosterRequest{Symbols: symbols}).
		SetResult(&body).
		SetError(&body).
		Post("/roster")
	if err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "roster request failed", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusForbidden:
		return errors.New(errors.ErrCodeInvalidToken, "control server rejected the token")
	case http.StatusBadRequest:
		return errors.Newf(errors.ErrCodeInvalidParameter, "roster rejected: %s", body.Error)
	default:
		return errors.Newf(errors.ErrCodeControlFailed, "roster request returned %d: %s", resp.StatusCode(), body.Error)
	}
}

// Status returns the lifecycle view of the running live core.
func (c *Client) Status(ctx context.Context) (engine.Status, error) {
	var status engine.Status

	resp, err := c.http.R().SetContext(ctx).SetResult(&status).Get("/status")
	if err != nil {
		return status, errors.Wrap(errors.ErrCodeControlFailed, "status request failed", err)
	}

	if resp.IsError() {
		return status, errors.Newf(errors.ErrCodeControlFailed, "status request returned %d", resp.StatusCode())
	}

	return status, nil
}

// StopOptions configures StopProcess.
type StopOptions struct {
	// RequestTimeout bounds the control socket request.
	RequestTimeout time.Duration
	// Wait is how long to wait for the process to exit. Zero returns right
	// after the stop was delivered.
	Wait time.Duration
}

// StopProcess stops the live core owning the lock file at lockPath. It posts
// to the control socket and falls back to SIGTERM on the locked pid.
func StopProcess(ctx context.Context, log *logger.Logger, lockPath string, opts StopOptions) error {
	info, err := ReadLock(lockPath)
	if err != nil {
		return err
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	err = NewClient(info.Socket, opts.RequestTimeout).Stop(ctx, info.Token)
	if err != nil {
		log.Warn("control socket stop failed, sending SIGTERM",
			zap.Int("pid", info.PID),
			zap.Error(err),
		)

		if info.PID <= 0 {
			return errors.Wrap(errors.ErrCodeControlFailed, "lock file carries no pid", err)
		}

		if killErr := unix.Kill(info.PID, unix.SIGTERM); killErr != nil {
			return errors.Wrap(errors.ErrCodeControlFailed, "failed to signal the live core", stderrors.Join(err, killErr))
		}
	}

	if opts.Wait <= 0 {
		return nil
	}

	return waitExit(ctx, info.PID, opts.Wait)
}

// waitExit polls until pid no longer exists.
func waitExit(ctx context.Context, pid int, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	policy := backoff.NewConstantBackOff(100 * time.Millisecond)

	err := backoff.Retry(func() error {
		if err := unix.Kill(pid, 0); stderrors.Is(err, unix.ESRCH) {
			return nil
		}

		return errors.Newf(errors.ErrCodeControlFailed, "process %d still running", pid)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStopBudgetExceeded, err, "live core did not exit within %s", wait)
	}

	return nil
}
