package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rsvp/internal/config"
	"rsvp/internal/export"
	"rsvp/internal/feed"
	"rsvp/internal/models"
	"rsvp/internal/service"
	"rsvp/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAPI(t *testing.T, cfg config.APIConfig) *HTTPServer {
	t.Helper()
	logger := zerolog.New(io.Discard)
	st, err := store.New(":memory:", time.Second, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	dispatcher := feed.NewDispatcher(st, feed.Options{}, &logger)
	svc := service.NewReservationService(st, dispatcher, export.New(t.TempDir()), &logger)
	return NewHTTPServer(cfg, svc, &logger)
}

func doRequest(t *testing.T, srv *HTTPServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:12345"
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeReservation(t *testing.T, rec *httptest.ResponseRecorder) models.Reservation {
	t.Helper()
	var r models.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func reserveBody(resourceID string, startHour, endHour int) map[string]any {
	day := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	return map[string]any{
		"user_id":     "alice",
		"resource_id": resourceID,
		"start":       day.Add(time.Duration(startHour) * time.Hour).Format(time.RFC3339),
		"end":         day.Add(time.Duration(endHour) * time.Hour).Format(time.RFC3339),
	}
}

func TestReserveAndGet(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeReservation(t, rec)
	assert.Equal(t, models.StatusPending, created.Status)

	rec = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeReservation(t, rec)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "room-1", got.ResourceID)
}

func TestReserveValidation(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations",
		map[string]any{"resource_id": "room-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Inverted window.
	body := reserveBody("room-1", 11, 10)
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/reservations", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReserveConflictResponse(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 12))
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeReservation(t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 11, 13))
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(first.ID), resp["existing_id"])
	assert.Equal(t, "room-1", resp["resource_id"])
}

func TestConfirmEndpoint(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	created := decodeReservation(t, rec)

	rec = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/confirm", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusConfirmed, decodeReservation(t, rec).Status)

	// Повторное подтверждение
	rec = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/confirm", created.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/reservations/99999/confirm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	created := decodeReservation(t, rec)

	rec = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/reservations/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNoteUpdateEndpoint(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	created := decodeReservation(t, rec)

	rec = doRequest(t, srv, http.MethodPatch, fmt.Sprintf("/api/v1/reservations/%d", created.ID),
		map[string]string{"note": "projector needed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "projector needed", decodeReservation(t, rec).Note)
}

func TestFilterEndpoint(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	for i := 0; i < 12; i++ {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", i, i+1))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/reservations?resource_id=room-1&with_total=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Reservations []models.Reservation `json:"reservations"`
		Pager        store.Pager          `json:"pager"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Reservations, 10)
	require.NotNil(t, page.Pager.Next)
	require.NotNil(t, page.Pager.Total)
	assert.Equal(t, int64(12), *page.Pager.Total)

	rec = doRequest(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/reservations?resource_id=room-1&cursor=%d", *page.Pager.Next), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Pager fields are omitempty: reset before reuse so absent keys are
	// observed as nil rather than left over from the first page.
	page.Pager = store.Pager{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Reservations, 2)
	assert.Nil(t, page.Pager.Next)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/reservations?cursor=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpoint(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	require.Equal(t, http.StatusCreated,
		doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11)).Code)
	require.Equal(t, http.StatusCreated,
		doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 12, 14)).Code)

	day := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	url := fmt.Sprintf("/api/v1/query?resource_id=room-1&start=%s&end=%s",
		day.Add(9*time.Hour).Format(time.RFC3339),
		day.Add(11*time.Hour+30*time.Minute).Format(time.RFC3339))

	rec := doRequest(t, srv, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Reservations []models.Reservation `json:"reservations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Только окно 10-11 полностью внутри диапазона.
	require.Len(t, resp.Reservations, 1)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/query?start=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockEndpoints(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	body := reserveBody("room-1", 9, 18)
	body["user_id"] = "ops"
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/blocks", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	block := decodeReservation(t, rec)
	assert.Equal(t, models.StatusBlocked, block.Status)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/blocks/%d", block.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestChangesEndpoint(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	require.Equal(t, http.StatusCreated,
		doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11)).Code)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/changes?since=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Changes []models.Change `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, models.OpCreate, resp.Changes[0].Operation)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/changes?since=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: "secret-1", Name: "exporter"}},
		},
	}
	srv := setupAPI(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/changes", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/changes", nil)
	req.Header.Set("x-api-key", "wrong")
	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/changes", nil)
	req.Header.Set("x-api-key", "secret-1")
	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// healthz открыт без ключа
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2}}
	srv := setupAPI(t, cfg)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, doRequest(t, srv, http.MethodGet, "/healthz", nil).Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestFeedStream(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/reservations", reserveBody("room-1", 10, 11))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeReservation(t, rec)

	resp, err := http.Get(ts.URL + "/api/v1/feed?resume_from=0")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var idLine, dataLine string
	deadline := time.After(3 * time.Second)
	lines := make(chan string, 4)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimRight(line, "\n")
		}
	}()

	for idLine == "" || dataLine == "" {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "id: ") {
				idLine = line
			} else if strings.HasPrefix(line, "data: ") {
				dataLine = line
			}
		case <-deadline:
			t.Fatal("timed out waiting for SSE event")
		}
	}

	assert.Equal(t, "id: 1", idLine)

	var change models.Change
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &change))
	assert.Equal(t, created.ID, change.ReservationID)
	assert.Equal(t, models.OpCreate, change.Operation)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := setupAPI(t, config.APIConfig{})

	assert.Equal(t, http.StatusMethodNotAllowed,
		doRequest(t, srv, http.MethodPut, "/api/v1/reservations", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		doRequest(t, srv, http.MethodGet, "/api/v1/blocks", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		doRequest(t, srv, http.MethodPost, "/api/v1/changes", nil).Code)
}
