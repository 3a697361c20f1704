package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"neuroface-id/internal/config"
	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/logger"
)

const previewWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// previewStream pushes the live camera view as binary JPEG frames until the
// camera closes or the client goes away.
func previewStream(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ws.View().Camera.Open {
			respondError(c, apperrors.NewConflictError("Camera is not open", nil))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithComponent("transport").WithError(err).Warn("Error upgrading websocket connection")
			return
		}
		defer conn.Close()

		log := logger.WithComponent("transport").WithField("remote", c.ClientIP())
		log.Info("Preview stream opened")

		// Reads only serve to notice the client closing the socket
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		fps := cfg.PreviewFPS
		if fps < 1 {
			fps = 1
		}
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()

		for {
			select {
			case <-gone:
				log.Info("Preview stream closed by client")
				return
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
				frame, err := ws.PreviewFrame()
				if err != nil {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, apperrors.UserMessage(err))
					_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(previewWriteWait))
					log.WithError(err).Info("Preview stream ended")
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					log.WithError(err).Warn("Error writing preview frame")
					return
				}
			}
		}
	}
}
