package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily は収集結果から指定名のメトリクスファミリーを探す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLogin_IncrementsCounterWithLabels はログインカウンタが方式・結果ラベル付きで増加することを検証する。
func TestRecordLogin_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("local", ResultSuccess)
	c.RecordLogin("local", ResultSuccess)
	c.RecordLogin("local", ResultFailure)
	c.RecordLogin("google", ResultSuccess)

	mf := findMetricFamily(t, reg, "langualegacy_auth_login_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}

	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		val := m.GetCounter().GetValue()
		if labels["method"] == "local" && labels["result"] == ResultSuccess && val != 2 {
			t.Errorf("login_total{local,success} = %v, want 2", val)
		}
		if labels["method"] == "local" && labels["result"] == ResultFailure && val != 1 {
			t.Errorf("login_total{local,failure} = %v, want 1", val)
		}
	}
}

// TestRecordRegistration_IncrementsCounter は登録カウンタが増加することを検証する。
func TestRecordRegistration_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()

	mf := findMetricFamily(t, reg, "langualegacy_auth_registrations_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("registrations_total = %v, want 1", val)
	}
}

// TestRecordAuthzDenied_IncrementsCounterWithLabel は認可拒否カウンタが理由別に増加することを検証する。
func TestRecordAuthzDenied_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthzDenied("unauthorized")
	c.RecordAuthzDenied("forbidden")
	c.RecordAuthzDenied("forbidden")

	mf := findMetricFamily(t, reg, "langualegacy_authz_denied_total")
	for _, m := range mf.GetMetric() {
		label := m.GetLabel()[0].GetValue()
		val := m.GetCounter().GetValue()
		switch label {
		case "unauthorized":
			if val != 1 {
				t.Errorf("authz_denied_total{unauthorized} = %v, want 1", val)
			}
		case "forbidden":
			if val != 2 {
				t.Errorf("authz_denied_total{forbidden} = %v, want 2", val)
			}
		default:
			t.Errorf("unexpected label value: %s", label)
		}
	}
}

// TestRecordSessionsSwept_AddsCount はスイープ件数が加算されることを検証する。
func TestRecordSessionsSwept_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsSwept(10)
	c.RecordSessionsSwept(5)
	c.RecordSessionRegenerated()

	mf := findMetricFamily(t, reg, "langualegacy_sessions_swept_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 15 {
		t.Errorf("sessions_swept_total = %v, want 15", val)
	}
	mf = findMetricFamily(t, reg, "langualegacy_sessions_regenerated_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("sessions_regenerated_total = %v, want 1", val)
	}
}

// TestRecordPasswordHash_ObservesHistogram はハッシュ所要時間のヒストグラムに値が記録されることを検証する。
func TestRecordPasswordHash_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPasswordHash(100 * time.Millisecond)
	c.RecordPasswordHash(200 * time.Millisecond)

	mf := findMetricFamily(t, reg, "langualegacy_password_hash_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 0.2 = 0.3秒
	if h.GetSampleSum() < 0.29 || h.GetSampleSum() > 0.31 {
		t.Errorf("sample_sum = %v, want ~0.3", h.GetSampleSum())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("platform", ResultSuccess)
	c.RecordRegistration()
	c.RecordAuthzDenied("forbidden")
	c.RecordSessionsSwept(3)
	c.RecordPasswordHash(50 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"langualegacy_auth_login_total",
		"langualegacy_auth_registrations_total",
		"langualegacy_authz_denied_total",
		"langualegacy_sessions_swept_total",
		"langualegacy_password_hash_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestNop_ImplementsMetricsCollectorInterface はNopがMetricsCollectorとして使えることを検証する。
func TestNop_ImplementsMetricsCollectorInterface(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordLogin("local", ResultSuccess)
	c.RecordPasswordHash(time.Second)
}
