package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mikekulinski/zkasync/pkg/client"
	"github.com/mikekulinski/zkasync/pkg/gozk"
	"github.com/mikekulinski/zkasync/pkg/zookeeper"
	"go.uber.org/zap"
)

const (
	serverAddress = "localhost:8080"
)

var (
	configPath = flag.String("config", "", "path to a YAML file with connection params")
	hosts      = flag.String("hosts", "", "comma separated hosts, overrides the config file")
	backend    = flag.String("backend", "grpc", "grpc to talk to cmd/server, zookeeper to talk to a real ensemble")
)

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("error building logger: ", err)
	}
	defer logger.Sync()

	params, err := loadParams()
	if err != nil {
		logger.Fatal("error loading params", zap.Error(err))
	}

	transport, err := dial(params, logger)
	if err != nil {
		logger.Fatal("error dialing", zap.Error(err))
	}
	conn, err := zookeeper.New(params, transport, zookeeper.WithLogger(logger))
	if err != nil {
		logger.Fatal("error starting connection", zap.Error(err))
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, conn, logger); err != nil {
		logger.Fatal("demo failed", zap.Error(err))
	}
}

func loadParams() (zookeeper.Params, error) {
	params := zookeeper.DefaultParams()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			return zookeeper.Params{}, err
		}
		defer f.Close()
		if params, err = zookeeper.LoadParams(f); err != nil {
			return zookeeper.Params{}, err
		}
	}
	if *hosts != "" {
		params.Hosts = strings.Split(*hosts, ",")
	}
	if len(params.Hosts) == 0 {
		params.Hosts = []string{serverAddress}
	}
	return params, params.Validate()
}

func dial(params zookeeper.Params, logger *zap.Logger) (zookeeper.Transport, error) {
	switch *backend {
	case "zookeeper":
		return gozk.Dial(params.OrderedHosts(), params.Timeout, logger)
	default:
		c := client.NewClient(params.OrderedHosts(),
			client.WithLogger(logger),
			client.WithTimeout(params.Timeout),
			client.WithReadOnly(params.ReadOnly),
		)
		ctx, cancel := context.WithTimeout(context.Background(), params.Timeout)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
}

func waitConnected(ctx context.Context, conn *zookeeper.Conn) error {
	for {
		next := conn.WatchState()
		if state := conn.State(); state == zookeeper.StateConnected || state == zookeeper.StateReadOnly {
			return nil
		}
		if _, err := next.Get(ctx); err != nil {
			return err
		}
	}
}

func run(ctx context.Context, conn *zookeeper.Conn, logger *zap.Logger) error {
	if err := waitConnected(ctx, conn); err != nil {
		return err
	}
	logger.Info("connected", zap.Int64("sessionID", conn.SessionID()))

	zoo, err := conn.Create("/zoo", []byte("Secrets hahahahaha!!"), zookeeper.Normal, nil).Get(ctx)
	if err != nil {
		return err
	}
	watch, err := conn.WatchChildren(zoo.Name).Get(ctx)
	if err != nil {
		return err
	}
	watch.Event().Then(func(event zookeeper.Event, err error) {
		logger.Info("children changed", zap.Stringer("event", event))
	})

	result, err := conn.Commit(zookeeper.NewMultiOp().
		Create("/zoo/giraffe", []byte("More secrets"), zookeeper.Normal, nil).
		Create("/zoo/ticket-", nil, zookeeper.Ephemeral|zookeeper.Sequential, nil),
	).Get(ctx)
	if err != nil {
		return err
	}
	for _, part := range result.Parts() {
		logger.Info("created", zap.String("name", part.Name()))
	}

	for _, path := range []string{"/zoo", "/zoo/giraffe"} {
		got, err := conn.Get(path).Get(ctx)
		if err != nil {
			return err
		}
		logger.Info("read", zap.String("path", path), zap.ByteString("data", got.Data), zap.Stringer("stat", got.Stat))
	}

	children, err := conn.GetChildren("/zoo").Get(ctx)
	if err != nil {
		return err
	}
	logger.Info("children", zap.Strings("names", children.Children))

	for _, child := range children.Children {
		if _, err := conn.Erase("/zoo/"+child, zookeeper.AnyVersion).Get(ctx); err != nil {
			return err
		}
	}
	_, err = conn.Erase("/zoo", zookeeper.AnyVersion).Get(ctx)
	return err
}
