package zookeeper

//go:generate mockgen -destination=mocks/mock_transport.go -package=mock_zookeeper . Transport

import (
	"context"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// Transport moves frames between a connection and the ensemble. The
// connection assigns xids; the transport only has to keep them.
type Transport interface {
	// Send queues a request frame. It must not block waiting for the
	// ensemble.
	Send(ctx context.Context, f *wire.Frame) error
	// Responses delivers response frames carrying the xid of their request.
	Responses() <-chan *wire.Frame
	// Notifications delivers watch notifications.
	Notifications() <-chan *wire.Frame
	// States delivers session state transitions.
	States() <-chan *wire.Frame
	// Close tears the transport down. Channels may stop delivering afterwards.
	Close() error
}
