package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_LockCycle(t *testing.T) {
	s := newTestServer(t)
	uid := s.register(t, "alice")

	acquire := func(inst string) int {
		rr := s.do(t, http.MethodPost, "/api/session/acquireSessionLock", uid, map[string]string{
			"installationID": inst, "platform": "cli", "deviceName": "laptop", "appVersion": "1.0.0",
		})
		return rr.Code
	}
	type released struct {
		Released bool   `json:"released"`
		Outcome  string `json:"outcome"`
	}
	release := func(inst string) released {
		rr := s.do(t, http.MethodPost, "/api/session/releaseSessionLock", uid, map[string]string{"installationID": inst})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		return decode[released](t, rr)
	}

	require.Equal(t, http.StatusOK, acquire("X"))
	assert.Equal(t, http.StatusOK, acquire("X"), "refresh by owner")
	assert.Equal(t, http.StatusPreconditionFailed, acquire("Y"))

	r := release("Y")
	assert.False(t, r.Released)
	assert.Equal(t, "ownership_mismatch", r.Outcome)

	r = release("X")
	assert.True(t, r.Released)
	assert.Equal(t, "released", r.Outcome)

	r = release("X")
	assert.True(t, r.Released)
	assert.Equal(t, "already_released", r.Outcome)

	assert.Equal(t, http.StatusOK, acquire("Y"))
	assert.Equal(t, http.StatusBadRequest, acquire("  "))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, withRateLimit(1, 1))
	rr := s.do(t, http.MethodGet, "/api/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/user/profile", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "TRANSIENT", errorCode(t, rr))
}
