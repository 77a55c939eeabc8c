package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurnCountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(turnsTotal.WithLabelValues(TurnSuccess))
	RecordTurn(TurnSuccess, 120*time.Millisecond)

	if got := testutil.ToFloat64(turnsTotal.WithLabelValues(TurnSuccess)); got != before+1 {
		t.Fatalf("expected success counter %v, got %v", before+1, got)
	}
}

func TestSessionGaugeTracksOpenClose(t *testing.T) {
	before := testutil.ToFloat64(sessionsActive)
	SessionOpened()
	SessionOpened()
	SessionClosed()

	if got := testutil.ToFloat64(sessionsActive); got != before+1 {
		t.Fatalf("expected gauge %v, got %v", before+1, got)
	}
	SessionClosed()
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordFaceTick(TickSkipped)

	rec := httptest.NewRecorder()
	Handler(NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "facechat_face_ticks_total") {
		t.Fatal("expected face tick counter in exposition output")
	}
}
