package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"presence-service/presence"
)

// Server bundles what the HTTP surface needs.
type Server struct {
	Transport Transport
	Lifecycle Lifecycle
	Presence  Presence
	Publisher Publisher
	Auth      Authenticator
	// ServiceToken guards the publish and diagnostics endpoints. When empty
	// those endpoints are not registered.
	ServiceToken string
	Logger       *log.Logger
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, s Server) {
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	e.GET("/hub", serveHub(s))
	e.GET("/healthz", healthz())

	if s.ServiceToken == "" {
		s.Logger.Warn("no service token configured; publish and presence endpoints disabled")
		return
	}
	g := e.Group("/api", requireServiceToken(s.ServiceToken))
	g.POST("/events", postEvent(s.Publisher, s.Logger), gzipRequest())
	g.GET("/presence", getPresenceSummary(s.Presence))
	g.GET("/presence/:userId", getPresence(s.Presence))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// serveHub authenticates the caller, upgrades the request and holds the
// connection through its lifecycle until the peer goes away.
func serveHub(s Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		principal, err := s.Auth.PrincipalFromAuthHeader(authHeaderFromRequest(c))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		req := c.Request()
		client, err := s.Transport.Upgrade(c.Response(), req)
		if err != nil {
			// the upgrader has already answered the request
			s.Logger.WithError(err).Debug("websocket upgrade failed")
			return nil
		}

		conn := presence.NewConnection(client.Handle(), principal)
		if err := s.Lifecycle.Admit(req.Context(), conn); err != nil {
			s.Logger.WithError(err).WithField("conn", conn.Handle).Error("admit connection")
		}
		defer s.Lifecycle.Terminate(conn)

		client.Run()
		return nil
	}
}
