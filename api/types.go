package api

import (
	"context"
	"net/http"

	"presence-service/domain"
	"presence-service/hub"
	"presence-service/presence"
)

// Authenticator is implemented by types able to extract a principal from an
// Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (domain.Principal, error)
}

// Transport upgrades requests into attached hub connections.
type Transport interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (*hub.Client, error)
}

// Lifecycle admits and terminates connections.
type Lifecycle interface {
	Admit(ctx context.Context, conn *presence.Connection) error
	Terminate(conn *presence.Connection)
}

// Publisher delivers a domain event to its audiences.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Presence exposes the read side of the presence registry.
type Presence interface {
	ConnectionsOf(userID string) []string
	Identities() int
	Connections() int
}
