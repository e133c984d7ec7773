package httpapi

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief.org/internal/admission"
	"relief.org/internal/audit"
)

func TestOverloadedHeapShedsWithRetryAfter(t *testing.T) {
	shedder := admission.NewShedder(admission.ShedOptions{
		MaxHeapBytes: admission.DefaultMaxHeapBytes,
		HeapSample:   func() uint64 { return 900 << 20 },
	})
	api := newShedTestAPI(t, shedder)

	resp := api.get("/resources", "volunteer-token", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
	body := decode[map[string]any](t, resp)
	assert.Equal(t, admission.StatusMemoryPressure, body["status"])
	assert.Equal(t, "SystemInspector", body["inspector"])
	assert.NotEmpty(t, body["message"])

	resp = api.get("/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return api.countAudited(audit.ActionLoadShed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInFlightLimitSheds(t *testing.T) {
	shedder := admission.NewShedder(admission.ShedOptions{MaxInFlight: 1, RetryAfter: 5 * time.Second})
	api := newShedTestAPI(t, shedder)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	api.api.Mount("GET /slow", "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-unblock
		w.WriteHeader(http.StatusNoContent)
	}))

	done := make(chan int, 1)
	go func() {
		resp, err := api.client.Get(api.baseURL + "/slow")
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("slow request never reached its handler")
	}

	resp := api.get("/resources", "authority-token", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
	body := decode[map[string]any](t, resp)
	assert.Equal(t, admission.StatusOverloaded, body["status"])

	close(unblock)
	assert.Equal(t, http.StatusNoContent, <-done)
	assert.Eventually(t, func() bool { return shedder.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	resp = api.get("/resources", "authority-token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestQueryInjectionIsRejected(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/audit", "authority-token", url.Values{"limit": {"10"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = api.get("/audit", "authority-token", url.Values{"limit": {"1' OR '1'='1"}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "access_denied", body["status"])
	assert.Equal(t, "SecurityInspector", body["inspector"])
	assert.NotEmpty(t, body["errors"])

	resp = api.get("/resources", "volunteer-token", url.Values{"q": {"<script>alert(1)</script>"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return api.countAudited(audit.ActionSecurityRejected) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPathInjectionIsRejected(t *testing.T) {
	api := newTestAPI(t)

	id := url.PathEscape("x' OR '1'='1")
	resp := api.do(http.MethodPatch, "/incidents/"+id+"/status", "authority-token", map[string]any{"status": "verified"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "SecurityInspector", body["inspector"])

	resp = api.get("/resources/assignments/"+url.PathEscape("inc-1; DROP TABLE resources "), "volunteer-token", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}
