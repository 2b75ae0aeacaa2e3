// Package utils holds the gRPC metadata helpers shared by the client and the
// server.
package utils

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// ClientIDHeader names the stream the session handshake arrives on. gRPC
// lowercases metadata keys on the wire.
const ClientIDHeader = "x-client-id"

// ExtractClientIDHeader returns the client ID of an incoming stream.
func ExtractClientIDHeader(ctx context.Context) (string, bool) {
	values := metadata.ValueFromIncomingContext(ctx, ClientIDHeader)
	if len(values) == 0 || values[0] == "" {
		return "", false
	}
	return values[0], true
}

// SetClientIDHeader tags an outgoing stream with clientID, keeping any
// metadata already on ctx.
func SetClientIDHeader(ctx context.Context, clientID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ClientIDHeader, clientID)
}
