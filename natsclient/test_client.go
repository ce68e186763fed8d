package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const natsImage = "nats:2.11.7-alpine"

// TestServer is a NATS server in a container with a connected Client.
type TestServer struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

type serverConfig struct {
	jetstream bool
	buckets   []string
	dial      time.Duration
	startup   time.Duration
}

// TestOption configures NewTestClient.
type TestOption func(*serverConfig)

// WithJetStream starts the server with JetStream enabled.
func WithJetStream() TestOption {
	return func(c *serverConfig) { c.jetstream = true }
}

// WithKVBuckets enables JetStream and creates the named buckets.
func WithKVBuckets(buckets ...string) TestOption {
	return func(c *serverConfig) {
		c.jetstream = true
		c.buckets = append(c.buckets, buckets...)
	}
}

// WithFastStartup shortens the timeouts for plain pub/sub tests.
func WithFastStartup() TestOption {
	return func(c *serverConfig) {
		c.dial = 2 * time.Second
		c.startup = 10 * time.Second
	}
}

// NewTestClient starts a server for the lifetime of t. Docker must be available.
func NewTestClient(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	cfg := serverConfig{dial: 5 * time.Second, startup: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	ts, err := startServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start NATS test server: %v", err)
	}
	t.Cleanup(func() {
		_ = ts.Client.Close(context.Background())
		_ = ts.container.Terminate(context.Background())
	})
	return ts
}

func startServer(ctx context.Context, cfg serverConfig) (*TestServer, error) {
	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		cmd = append(cmd, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        natsImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          cmd,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(cfg.startup),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	ts, err := connectServer(ctx, container, cfg)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	return ts, nil
}

func connectServer(ctx context.Context, container testcontainers.Container, cfg serverConfig) (*TestServer, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return nil, fmt.Errorf("mapped port: %w", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(url, WithName("smoothbus-test"), WithTimeout(cfg.dial), WithMaxReconnects(0))
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dial)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	for _, name := range cfg.buckets {
		if _, err := client.CreateKeyValueBucket(dialCtx, jetstream.KeyValueConfig{Bucket: name}); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("create bucket %s: %w", name, err)
		}
	}

	return &TestServer{Client: client, URL: url, container: container}, nil
}

// Dial opens an extra connected client to the same server, closed on cleanup.
func (ts *TestServer) Dial(t testing.TB, opts ...ClientOption) *Client {
	t.Helper()

	client, err := NewClient(ts.URL, append([]ClientOption{WithMaxReconnects(0)}, opts...)...)
	if err != nil {
		t.Fatalf("create NATS client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

// Bucket opens a KV store on an existing or new bucket.
func (ts *TestServer) Bucket(t testing.TB, name string) *KVStore {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bucket, err := ts.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
	if err != nil {
		t.Fatalf("open bucket %s: %v", name, err)
	}
	return ts.Client.NewKVStore(bucket, 2*time.Second)
}
