package sessionmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"

	"github.com/k82cn/flame/client"
	"github.com/k82cn/flame/config"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

// Boots the real server on loopback ports and talks to it over TCP.
func TestServerRunSmoke(t *testing.T) {
	frontendPort, err := freeport.GetFreePort()
	require.NoError(t, err)
	backendPort, err := freeport.GetFreePort()
	require.NoError(t, err)

	cfg := (&config.Config{
		Endpoint:        fmt.Sprintf("127.0.0.1:%d", frontendPort),
		BackendEndpoint: fmt.Sprintf("127.0.0.1:%d", backendPort),
		Storage:         "sqlite://" + filepath.Join(t.TempDir(), "flame.db"),
	}).Adjust()

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := NewServer(ctx, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	frontend, err := client.NewFrontendClient(cfg.Endpoint)
	require.NoError(t, err)
	defer frontend.Close()

	// The default applications are served once the endpoint is up.
	require.Eventually(t, func() bool {
		resp, err := frontend.Cli.ListApplications(context.Background(),
			&flamev1.ListApplicationsRequest{})
		return err == nil && len(resp.Applications) >= 2
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
