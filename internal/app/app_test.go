package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solutionners/marketplace-backend/internal/config"
	"github.com/solutionners/marketplace-backend/internal/metrics"
	"github.com/solutionners/marketplace-backend/internal/reconcile"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RECONCILE_DRIVER", "ticker")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func TestNewWithMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()

	engine, err := a.Router()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	runner, err := a.NewRunner()
	require.NoError(t, err)
	assert.IsType(t, &reconcile.TickerRunner{}, runner)
	again, err := a.NewRunner()
	require.NoError(t, err)
	assert.Same(t, runner, again)

	trigger, err := a.reconcileTrigger()
	require.NoError(t, err)
	assert.Nil(t, trigger)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reconcile", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	report, err := a.Sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Refunds)
}

func TestRiverRequiresPostgres(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Reconcile.Driver = "river"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=postgres")
}

func TestBuildGatewayUnknownProvider(t *testing.T) {
	cfg := memoryConfig(t).Gateway
	cfg.RefundProvider = "nope"

	_, err := buildGateway(cfg, nil, metrics.New())
	require.Error(t, err)
}
