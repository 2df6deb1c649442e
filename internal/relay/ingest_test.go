package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/registry"
)

const waitFor = 2 * time.Second

type fakeDeviceVerifier struct {
	ident model.DeviceIdentity
	err   error
}

func (v *fakeDeviceVerifier) VerifyDevice(token string) (model.DeviceIdentity, error) {
	if v.err != nil {
		return model.DeviceIdentity{}, v.err
	}
	return v.ident, nil
}

type fakeSink struct {
	record *model.CanonicalRecord
	err    error
}

func (s *fakeSink) Add(ctx context.Context, ident model.DeviceIdentity, raw model.TelemetryReading) (*model.CanonicalRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

type published struct {
	ownerID string
	event   Event
}

type capturePublisher struct {
	events chan published
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{events: make(chan published, 16)}
}

func (p *capturePublisher) Publish(ctx context.Context, ownerID string, event Event) error {
	p.events <- published{ownerID: ownerID, event: event}
	return nil
}

func (p *capturePublisher) next(t *testing.T) published {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("no event published")
		return published{}
	}
}

func dialWS(t *testing.T, serverURL, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Access-Token", token)
	}
	return websocket.DefaultDialer.Dial(wsURL, header)
}

var deviceIdent = model.DeviceIdentity{
	WorkspaceID: "ws-1",
	OwnerID:     "owner-1",
	MeterID:     "meter-1",
}

func TestIngestRejectsBadCredential(t *testing.T) {
	sessions := registry.New[model.Identity]()
	publisher := newCapturePublisher()
	handler := NewIngestHandler(
		&fakeDeviceVerifier{err: apperrors.InvalidCredential(nil)},
		sessions,
		&fakeSink{},
		publisher,
	)

	server := httptest.NewServer(handler)
	defer server.Close()

	conn, resp, err := dialWS(t, server.URL, "bad-token")
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A rejected handshake never registers a session.
	assert.Equal(t, 0, sessions.Len())
	assert.Empty(t, publisher.events)
}

func TestIngestRejectsMissingCredential(t *testing.T) {
	handler := NewIngestHandler(
		&fakeDeviceVerifier{ident: deviceIdent},
		registry.New[model.Identity](),
		&fakeSink{},
		newCapturePublisher(),
	)

	server := httptest.NewServer(handler)
	defer server.Close()

	_, resp, err := dialWS(t, server.URL, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestPublishesReading(t *testing.T) {
	sessions := registry.New[model.Identity]()
	publisher := newCapturePublisher()
	record := &model.CanonicalRecord{
		ID:          "rec-1",
		WorkspaceID: "ws-1",
		OwnerID:     "owner-1",
		MeterID:     "meter-1",
		Sensors:     map[string]float64{"ph": 7.1},
	}
	handler := NewIngestHandler(
		&fakeDeviceVerifier{ident: deviceIdent},
		sessions,
		&fakeSink{record: record},
		publisher,
	)

	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := dialWS(t, server.URL, "device-token")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return sessions.Len() == 1 }, waitFor, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ph": 7.1}`)))

	got := publisher.next(t)
	assert.Equal(t, "owner-1", got.ownerID)
	assert.Equal(t, EventMessage, got.event.Type)

	var payload model.CanonicalRecord
	require.NoError(t, json.Unmarshal(got.event.Data, &payload))
	assert.Equal(t, "rec-1", payload.ID)
	assert.Equal(t, "meter-1", payload.MeterID)
	assert.Equal(t, 7.1, payload.Sensors["ph"])
}

func TestIngestRejectedReadingKeepsConnectionOpen(t *testing.T) {
	sessions := registry.New[model.Identity]()
	publisher := newCapturePublisher()
	sink := &fakeSink{err: apperrors.ValidationError("Reading carries no recognized sensor fields")}
	handler := NewIngestHandler(
		&fakeDeviceVerifier{ident: deviceIdent},
		sessions,
		sink,
		publisher,
	)

	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := dialWS(t, server.URL, "device-token")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"battery": 88}`)))

	got := publisher.next(t)
	assert.Equal(t, "owner-1", got.ownerID)
	assert.Equal(t, EventError, got.event.Type)

	var errData ErrorData
	require.NoError(t, json.Unmarshal(got.event.Data, &errData))
	assert.Equal(t, string(apperrors.ErrCodeValidation), errData.Code)

	// The connection survives the rejection and processes more frames.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"battery": 89}`)))
	got = publisher.next(t)
	assert.Equal(t, EventError, got.event.Type)
}

func TestIngestMalformedPayload(t *testing.T) {
	publisher := newCapturePublisher()
	handler := NewIngestHandler(
		&fakeDeviceVerifier{ident: deviceIdent},
		registry.New[model.Identity](),
		&fakeSink{},
		publisher,
	)

	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := dialWS(t, server.URL, "device-token")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	got := publisher.next(t)
	assert.Equal(t, EventError, got.event.Type)

	var errData ErrorData
	require.NoError(t, json.Unmarshal(got.event.Data, &errData))
	assert.Equal(t, string(apperrors.ErrCodeValidation), errData.Code)
}

func TestIngestDisconnectTearsDownSession(t *testing.T) {
	sessions := registry.New[model.Identity]()
	handler := NewIngestHandler(
		&fakeDeviceVerifier{ident: deviceIdent},
		sessions,
		&fakeSink{},
		newCapturePublisher(),
	)

	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := dialWS(t, server.URL, "device-token")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sessions.Len() == 1 }, waitFor, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return sessions.Len() == 0 }, waitFor, 10*time.Millisecond)
}

func TestExtractToken(t *testing.T) {
	t.Run("access token header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/ingest", nil)
		r.Header.Set("Access-Token", "abc")
		assert.Equal(t, "abc", ExtractToken(r))
	})

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/ingest", nil)
		r.Header.Set("Authorization", "Bearer abc")
		assert.Equal(t, "abc", ExtractToken(r))
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/distribute?token=abc", nil)
		assert.Equal(t, "abc", ExtractToken(r))
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/ingest", nil)
		assert.Equal(t, "", ExtractToken(r))
	})
}
