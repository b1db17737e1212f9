package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/switchboard/internal/config"
)

func newOverviewCommand() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Print the queue overview from a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if path == "" {
				path = config.ResolvePath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			body, err := fetchOverview(cmd.Context(), cfg, actorID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "as", "admin", "actor id to present as the admin caller")
	return cmd
}

// fetchOverview prefers the unix socket when one is configured so the
// command works without the TCP port being reachable.
func fetchOverview(ctx context.Context, cfg config.Config, actorID string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	url := "http://" + hostFromAddr(cfg.Addr) + "/api/overview"
	if cfg.SocketPath != "" {
		socket := cfg.SocketPath
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
		url = "http://switchboard/api/overview"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Actor-ID", actorID)
	req.Header.Set("X-Actor-Role", "admin")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overview request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overview request: %s: %s", resp.Status, string(body))
	}
	return body, nil
}

func hostFromAddr(addr string) string {
	if addr == "" {
		return "localhost"
	}
	if addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
