package api

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/openhms/hms-client/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const requestIDHeader = "X-Request-ID"

// retryMarker marks a request that has already been retried after a refresh.
// It is request-scoped and never persisted: a given original request is
// retried at most once, and a second 401 propagates as a failure.
type retryMarker struct{}

type refreshFunc func(ctx context.Context, refreshToken string) (*credentials.Pair, error)

// authTransport is the interceptor pair of the pipeline. The request stage
// attaches the stored bearer credential and a request ID; the response stage
// performs the single transparent refresh-and-retry cycle on a 401.
type authTransport struct {
	base             http.RoundTripper
	store            credentials.Store
	exchange         refreshFunc
	group            singleflight.Group
	onSessionExpired func()
	log              zerolog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := t.withCredentials(req)
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if req.Context().Value(retryMarker{}) != nil {
		// Already retried once; the second 401 propagates unchanged.
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// The body cannot be replayed, so the request cannot be retried.
		return resp, nil
	}

	pair, loadErr := t.store.Load()
	if loadErr != nil || pair == nil || pair.Refresh == "" {
		// No usable refresh token: the session is over and the original 401
		// propagates to the caller.
		t.expireSession()
		return resp, nil
	}

	access := pair.Access
	if access == "" || "Bearer "+access == out.Header.Get("Authorization") {
		// The stored token is the one that just failed; exchange it. When
		// another request already refreshed while this one was in flight,
		// the stored token is newer and the retry can use it directly.
		var refreshErr error
		access, refreshErr = t.refreshShared(req.Context(), pair.Refresh)
		if refreshErr != nil {
			drainAndClose(resp)
			t.expireSession()
			return nil, errors.Wrapf(ErrSessionExpired, "refresh failed: %s", refreshErr.Error())
		}
	}

	drainAndClose(resp)
	t.log.Debug().Str("path", req.URL.Path).Msg("retrying request with refreshed token")

	retry := req.Clone(context.WithValue(req.Context(), retryMarker{}, true))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[authTransport.RoundTrip] replay request body")
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+access)
	return t.RoundTrip(retry)
}

// withCredentials clones the request and attaches the bearer header from the
// current stored access token. The header is a pure function of the stored
// token; attaching twice without an intervening token change is a no-op.
func (t *authTransport) withCredentials(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	if out.Header.Get(requestIDHeader) == "" {
		out.Header.Set(requestIDHeader, uuid.New().String())
	}
	pair, err := t.store.Load()
	if err != nil || pair == nil || pair.Access == "" {
		return out
	}
	out.Header.Set("Authorization", "Bearer "+pair.Access)
	return out
}

// refreshShared coalesces concurrent refresh attempts into a single in-flight
// exchange. Every waiter observes the same outcome and retries with the one
// new access token, so the backend's rotation policy can never invalidate a
// token another request just obtained.
func (t *authTransport) refreshShared(ctx context.Context, refreshToken string) (string, error) {
	v, err, shared := t.group.Do("refresh", func() (any, error) {
		pair, err := t.exchange(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		if err := t.store.Save(*pair); err != nil {
			return nil, errors.Wrap(err, "[authTransport.refreshShared] persist credentials")
		}
		return pair.Access, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		t.log.Debug().Msg("joined in-flight token refresh")
	}
	return v.(string), nil
}

// expireSession ends the session: stored credentials are cleared and the
// registered callback (typically the session store's forced logout) fires.
func (t *authTransport) expireSession() {
	if err := t.store.Clear(); err != nil {
		t.log.Warn().Err(err).Msg("failed to clear credentials")
	}
	if t.onSessionExpired != nil {
		t.onSessionExpired()
	}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
