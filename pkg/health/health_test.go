package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(name string) Checker {
	return NewCheckerFunc(name, func(context.Context) error { return nil })
}

func failing(name string) Checker {
	return NewCheckerFunc(name, func(context.Context) error { return errors.New("down") })
}

func TestCheckerRegistryStatus(t *testing.T) {
	tests := []struct {
		name     string
		required []Checker
		optional []Checker
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", required: []Checker{ok("redis")}, optional: []Checker{ok("kafka")}, want: StatusHealthy},
		{name: "optional failing", required: []Checker{ok("redis")}, optional: []Checker{failing("kafka")}, want: StatusDegraded},
		{name: "required failing", required: []Checker{failing("redis")}, optional: []Checker{failing("kafka")}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.required {
				r.Register(c)
			}
			for _, c := range tt.optional {
				r.RegisterOptional(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.required)+len(tt.optional))
		})
	}
}

func TestHandlerReportsChecks(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(ok("redis"))
	r.Register(failing("mongodb"))

	rec := httptest.NewRecorder()
	Handler(r).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, StatusHealthy, body.Checks["redis"].Status)
	assert.Equal(t, "down", body.Checks["mongodb"].Message)
}

func TestKafkaCheckerWithoutBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	assert.Error(t, err)
}
