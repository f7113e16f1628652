package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type presenceResponse struct {
	UserID      string   `json:"userId"`
	Connections []string `json:"connections"`
}

type presenceSummary struct {
	Identities  int `json:"identities"`
	Connections int `json:"connections"`
}

func getPresence(p Presence) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Param("userId")
		if userID == "" {
			return c.String(http.StatusBadRequest, "missing user id")
		}
		return c.JSON(http.StatusOK, presenceResponse{UserID: userID, Connections: p.ConnectionsOf(userID)})
	}
}

func getPresenceSummary(p Presence) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, presenceSummary{Identities: p.Identities(), Connections: p.Connections()})
	}
}
