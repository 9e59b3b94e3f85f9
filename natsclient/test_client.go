package natsclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pkg/retry"
)

const defaultTestImage = "nats:2.11.7-alpine"

// TestServer is a JetStream enabled NATS server in a container.
type TestServer struct {
	URL       string
	container testcontainers.Container
}

// StartTestServer starts a server container. NATS_TEST_IMAGE overrides the image.
func StartTestServer(ctx context.Context) (*TestServer, error) {
	image := os.Getenv("NATS_TEST_IMAGE")
	if image == "" {
		image = defaultTestImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--js", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", image, err)
	}

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve NATS endpoint: %w", err)
	}
	return &TestServer{URL: endpoint, container: container}, nil
}

// Terminate removes the container.
func (s *TestServer) Terminate(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// NewTestClient starts a server for t and returns a connected client. Both
// are released when t finishes.
func NewTestClient(t testing.TB) *Client {
	t.Helper()
	ctx := context.Background()

	server, err := StartTestServer(ctx)
	if err != nil {
		t.Fatalf("NATS test server: %v", err)
	}
	t.Cleanup(func() { _ = server.Terminate(context.Background()) })

	client, err := Dial(ctx, server.URL, retry.Quick(),
		WithTimeout(5*time.Second),
		WithReconnect(0, 0),
		WithHealthInterval(0),
		WithDrainTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}
