package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aquaminds/meter-relay-go/internal/audit"
	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/httputil"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Meters and dashboards connect from anywhere; there is no
	// browser origin to pin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DeviceVerifier validates a meter credential from the connection
// handshake.
type DeviceVerifier interface {
	VerifyDevice(token string) (model.DeviceIdentity, error)
}

// RecordSink validates, stamps and persists a raw reading, returning
// its canonical form.
type RecordSink interface {
	Add(ctx context.Context, ident model.DeviceIdentity, raw model.TelemetryReading) (*model.CanonicalRecord, error)
}

// Publisher delivers an event to every subscriber on an owner's topic.
type Publisher interface {
	Publish(ctx context.Context, ownerID string, event Event) error
}

// IngestHandler owns the device side of the relay: it authenticates
// the websocket handshake, registers the session, and turns every
// inbound reading into a canonical record published to the owner's
// topic.
type IngestHandler struct {
	verifier DeviceVerifier
	sessions *registry.Registry[model.Identity]
	records  RecordSink
	hub      Publisher
}

func NewIngestHandler(
	verifier DeviceVerifier,
	sessions *registry.Registry[model.Identity],
	records RecordSink,
	hub Publisher,
) *IngestHandler {
	return &IngestHandler{
		verifier: verifier,
		sessions: sessions,
		records:  records,
		hub:      hub,
	}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := ExtractToken(r)
	if token == "" {
		httputil.WriteError(w, apperrors.Unauthorized("Missing credential"))
		return
	}

	// Verification happens once, at connect time. A failure here is
	// the only path that never reaches Active: the handshake is
	// rejected and no session is registered.
	ident, err := h.verifier.VerifyDevice(token)
	if err != nil {
		log.Warn().Err(err).Msg("ingest: credential rejected")
		audit.LogFromRequest(r, audit.Event{Type: audit.EventCredentialRejected, Details: map[string]interface{}{"channel": "ingest"}})
		httputil.WriteError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ingest: upgrade failed")
		return
	}

	connID := uuid.NewString()
	if err := h.sessions.Add(connID, model.DeviceIdent(ident)); err != nil {
		log.Error().Err(err).Str("connId", connID).Msg("ingest: session registration failed")
		conn.Close()
		return
	}

	log.Info().
		Str("connId", connID).
		Str("ownerId", ident.OwnerID).
		Str("meterId", ident.MeterID).
		Msg("ingest connection established")
	audit.Log(r.Context(), audit.Event{
		Type:        audit.EventSessionRegister,
		OwnerID:     ident.OwnerID,
		WorkspaceID: ident.WorkspaceID,
		MeterID:     ident.MeterID,
		ConnID:      connID,
	})

	defer func() {
		// Unconditional cleanup; Delete is idempotent so racing a
		// late message handler cannot corrupt the registry.
		h.sessions.Delete(connID)
		conn.Close()
		audit.Log(r.Context(), audit.Event{
			Type:    audit.EventSessionTeardown,
			OwnerID: ident.OwnerID,
			MeterID: ident.MeterID,
			ConnID:  connID,
		})
		log.Info().Str("connId", connID).Msg("ingest connection closed")
	}()

	var writeMu sync.Mutex
	stopPing := make(chan struct{})
	defer close(stopPing)
	go pingLoop(conn, &writeMu, stopPing)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("connId", connID).Msg("ingest read error")
			}
			return
		}

		h.handleReading(r.Context(), conn, &writeMu, connID, payload)
	}
}

// handleReading processes one inbound telemetry frame. Failures are
// local to the frame: an error event goes out and the connection
// stays open.
func (h *IngestHandler) handleReading(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, connID string, payload []byte) {
	ident, err := h.sessions.Get(connID)
	if err != nil || ident.Device == nil {
		// Event from a connection mid-teardown or never registered.
		// The owner is unknown, so the rejection goes back on the
		// device connection itself.
		log.Warn().Str("connId", connID).Msg("ingest: event from unknown session")
		writeErrorEvent(conn, writeMu, apperrors.UnknownSession(connID))
		return
	}
	device := *ident.Device

	var raw model.TelemetryReading
	if err := json.Unmarshal(payload, &raw); err != nil {
		h.publishError(ctx, device.OwnerID, apperrors.ValidationError("Malformed reading payload"))
		return
	}

	record, err := h.records.Add(ctx, device, raw)
	if err != nil {
		log.Warn().Err(err).
			Str("connId", connID).
			Str("meterId", device.MeterID).
			Msg("ingest: reading rejected")
		h.publishError(ctx, device.OwnerID, err)
		return
	}

	event, err := NewEvent(EventMessage, record)
	if err != nil {
		log.Error().Err(err).Msg("ingest: marshal record event")
		return
	}

	if err := h.hub.Publish(ctx, device.OwnerID, event); err != nil {
		// A broken fan-out never fails the device connection.
		log.Error().Err(err).
			Str("ownerId", device.OwnerID).
			Msg("ingest: publish failed")
	}
}

func (h *IngestHandler) publishError(ctx context.Context, ownerID string, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("Failed to process reading")
	}

	event, marshalErr := NewEvent(EventError, ErrorData{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	if marshalErr != nil {
		return
	}

	if pubErr := h.hub.Publish(ctx, ownerID, event); pubErr != nil {
		log.Error().Err(pubErr).Str("ownerId", ownerID).Msg("ingest: publish error event failed")
	}
}

func writeErrorEvent(conn *websocket.Conn, writeMu *sync.Mutex, appErr *apperrors.AppError) {
	event, err := NewEvent(EventError, ErrorData{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	if err != nil {
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		log.Debug().Err(err).Msg("write error event failed")
	}
}

func pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// ExtractToken pulls the bearer credential from the connection
// handshake metadata. Meters send an Access-Token header; browser
// clients fall back to Authorization or a query parameter since
// custom headers are unavailable in the WebSocket API.
func ExtractToken(r *http.Request) string {
	if token := r.Header.Get("Access-Token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
