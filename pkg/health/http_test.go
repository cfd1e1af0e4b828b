package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPCheckerHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL+"/health", time.Second)
	res := c.Check(context.Background())

	assert.True(t, res.Healthy)
	assert.Contains(t, res.Message, "200")
}

func TestHTTPCheckerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL+"/health", time.Second)
	res := c.Check(context.Background())

	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "500")
}

func TestHTTPCheckerConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPChecker(srv.URL+"/health", time.Second)
	res := c.Check(context.Background())

	assert.False(t, res.Healthy)
	assert.NotEmpty(t, res.Message)
}

func TestTallyThreshold(t *testing.T) {
	tally := NewTally()
	fail := Result{Message: "boom"}

	assert.False(t, tally.RecordFailure(fail, 3))
	assert.False(t, tally.RecordFailure(fail, 3))
	assert.True(t, tally.RecordFailure(fail, 3))
	assert.Equal(t, 3, tally.ConsecutiveFailures())
}

func TestTallySuccessResetsStreak(t *testing.T) {
	tally := NewTally()
	fail := Result{Message: "boom"}

	tally.RecordFailure(fail, 3)
	tally.RecordFailure(fail, 3)
	tally.RecordSuccess(Result{Healthy: true})

	assert.Equal(t, 0, tally.ConsecutiveFailures())
	assert.True(t, tally.RecordFailure(fail, 1))
}
