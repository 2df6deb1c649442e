package relay

import (
	"net/http"
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

// UserVerifier validates a subscriber credential from the connection
// handshake.
type UserVerifier interface {
	VerifyUser(token string) (model.UserIdentity, error)
}

// TopicJoiner is the hub surface the distribution side needs.
type TopicJoiner interface {
	Subscribe(ownerID string) *Subscriber
	Unsubscribe(sub *Subscriber)
}

// JoinedData is the payload of the "joined" confirmation sent after a
// successful distribution connect.
type JoinedData struct {
	Room string `json:"room"`
}

// DistributeHandler owns the subscriber side of the relay: it
// authenticates the handshake, joins the subscriber to the owner's
// topic, and pumps events out. Subscribers never publish business
// events.
type DistributeHandler struct {
	verifier UserVerifier
	sessions *registry.Registry[model.Identity]
	hub      TopicJoiner
}

func NewDistributeHandler(
	verifier UserVerifier,
	sessions *registry.Registry[model.Identity],
	hub TopicJoiner,
) *DistributeHandler {
	return &DistributeHandler{
		verifier: verifier,
		sessions: sessions,
		hub:      hub,
	}
}

func (h *DistributeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := ExtractToken(r)
	if token == "" {
		httputil.WriteError(w, apperrors.Unauthorized("Missing credential"))
		return
	}

	ident, err := h.verifier.VerifyUser(token)
	if err != nil {
		log.Warn().Err(err).Msg("distribute: credential rejected")
		audit.LogFromRequest(r, audit.Event{Type: audit.EventCredentialRejected, Details: map[string]interface{}{"channel": "distribute"}})
		httputil.WriteError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("distribute: upgrade failed")
		return
	}

	connID := uuid.NewString()
	if err := h.sessions.Add(connID, model.UserIdent(ident)); err != nil {
		log.Error().Err(err).Str("connId", connID).Msg("distribute: session registration failed")
		conn.Close()
		return
	}

	// The topic key is the owner id, the same value a device credential
	// carries, so every client of the account lands in the room its
	// meters publish into.
	sub := h.hub.Subscribe(ident.OwnerID)

	log.Info().
		Str("connId", connID).
		Str("room", ident.OwnerID).
		Msg("distribute connection established")

	defer func() {
		h.hub.Unsubscribe(sub)
		h.sessions.Delete(connID)
		conn.Close()
		log.Info().Str("connId", connID).Msg("distribute connection closed")
	}()

	// Subscribers only send control frames; the read loop exists to
	// notice the peer going away.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	joined, err := NewEvent(EventJoined, JoinedData{Room: ident.OwnerID})
	if err != nil {
		log.Error().Err(err).Msg("distribute: marshal joined event")
		return
	}
	if err := writeEvent(conn, joined); err != nil {
		log.Debug().Err(err).Str("connId", connID).Msg("distribute: joined write failed")
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-disconnected:
			return

		case <-sub.Done:
			return

		case event := <-sub.Events:
			if err := writeEvent(conn, event); err != nil {
				log.Debug().Err(err).Str("connId", connID).Msg("distribute: event write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}
