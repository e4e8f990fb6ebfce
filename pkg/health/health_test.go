package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"promohub-payouts/services/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func readiness(t *testing.T, svc HealthService) (int, Health) {
	t.Helper()
	r := gin.New()
	r.GET("/readyz", svc.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadinessHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := ProvideHealth(HealthParams{DB: testutil.NewTestDB(t), Redis: rdb})

	code, body := readiness(t, svc)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, statusHealthy, body.Status)
	require.Len(t, body.Deps, 2)
	require.Equal(t, "sqlite", body.Deps[0].Name)
	require.Equal(t, "redis", body.Deps[1].Name)
}

func TestReadinessRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	svc := ProvideHealth(HealthParams{DB: testutil.NewTestDB(t), Redis: rdb})

	code, body := readiness(t, svc)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, statusUnhealthy, body.Status)
	require.Equal(t, statusUnhealthy, body.Deps[1].Status)
}

func TestLiveness(t *testing.T) {
	r := gin.New()
	r.GET("/healthz", ProvideHealth(HealthParams{}).Liveness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
