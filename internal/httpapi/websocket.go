package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"corridor-router/internal/risk"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 512
)

// streamEvents upgrades the request and forwards bus events as JSON frames.
// The first frame is the current state of every corridor.
func (h *Handler) streamEvents(c echo.Context) error {
	if h.deps.Bus == nil {
		return AppErrorResponse(c, NewAppError("ERR_UNAVAILABLE", "event stream is not available", http.StatusServiceUnavailable, nil))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	sub := h.deps.Bus.Subscribe("websocket:"+c.RealIP(), h.deps.WebsocketBuffer)
	defer h.deps.Bus.Unsubscribe(sub)

	log := h.logger.With().Str("remote", c.RealIP()).Logger()
	log.Info().Msg("event stream opened")
	defer log.Info().Int64("dropped", sub.Dropped()).Msg("event stream closed")

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(e risk.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e)
	}

	initial := risk.Event{Type: risk.EventStateUpdated, At: time.Now().UTC(), States: h.deps.Risk.States()}
	if err := write(initial); err != nil {
		return nil
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return nil
		case e, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return nil
			}
			if err := write(e); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		}
	}
}
