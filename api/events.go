package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"presence-service/domain"
)

const postEventMaxSize = 64 << 10

type postEventRequest struct {
	ID        string           `json:"id"`
	Kind      domain.EventKind `json:"kind"`
	Payload   json.RawMessage  `json:"payload"`
	HotelID   *int64           `json:"hotelId"`
	BookingID *int64           `json:"bookingId"`
}

type postEventResponse struct {
	ID string `json:"id"`
}

// postEvent accepts a committed domain event from the application and
// publishes it to its audiences before answering.
func postEvent(pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, postEventMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req postEventRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if !req.Kind.Valid() {
			return c.String(http.StatusBadRequest, domain.ErrUnknownEventKind.Error())
		}

		ev := domain.Event{
			ID:      req.ID,
			Kind:    req.Kind,
			Payload: req.Payload,
			Hints:   domain.Hints{HotelID: req.HotelID, BookingID: req.BookingID},
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}

		if err := pub.Publish(c.Request().Context(), ev); err != nil {
			if errors.Is(err, domain.ErrUnknownEventKind) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			logger.WithError(err).WithFields(log.Fields{"event_id": ev.ID, "kind": ev.Kind}).Error("publish event")
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusAccepted, postEventResponse{ID: ev.ID})
	}
}
