package client

import (
	"context"
	"time"

	"github.com/mikekulinski/zkasync/pkg/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// sessionStreamInterceptor tags every session stream with the client's ID so
// the ensemble can tie a resumed stream back to the same client.
func sessionStreamInterceptor(clientID string, logger *zap.Logger) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		start := time.Now()
		stream, err := streamer(utils.SetClientIDHeader(ctx, clientID), desc, cc, method, opts...)
		if err != nil {
			logger.Debug("error opening stream",
				zap.String("method", method),
				zap.String("target", cc.Target()),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return nil, err
		}
		logger.Debug("opened stream", zap.String("method", method), zap.String("target", cc.Target()))
		return stream, nil
	}
}
