package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "actiongate %s\n", version)
	},
}

var (
	statusAddr string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running gateway's counters",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Gateway address (default from config gateway.host:port)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw JSON status")
}

type gatewayStatus struct {
	Status               string `json:"status"`
	Uptime               string `json:"uptime"`
	Received             int64  `json:"received"`
	Duplicates           int64  `json:"duplicates"`
	Dropped              int64  `json:"dropped"`
	Redirected           int64  `json:"redirected"`
	Proposals            int64  `json:"proposals"`
	Confirmations        int64  `json:"confirmations"`
	Dispatched           int64  `json:"dispatched"`
	DispatchFailures     int64  `json:"dispatch_failures"`
	Degraded             int64  `json:"degraded"`
	PendingConfirmations int    `json:"pending_confirmations"`
	LastError            string `json:"last_error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr := strings.TrimSpace(statusAddr)
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		fmt.Fprintln(out, strings.TrimSpace(string(body)))
		return nil
	}
	var st gatewayStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printHeader(out, "ActionGate Status")
	fmt.Fprintf(out, "Status:         %s (up %s)\n", color.GreenString(st.Status), st.Uptime)
	fmt.Fprintf(out, "Events:         %d received, %d duplicate, %d dropped, %d redirected\n", st.Received, st.Duplicates, st.Dropped, st.Redirected)
	fmt.Fprintf(out, "Proposals:      %d staged, %d pending, %d answered\n", st.Proposals, st.PendingConfirmations, st.Confirmations)
	fmt.Fprintf(out, "Operations:     %d dispatched, %d failed\n", st.Dispatched, st.DispatchFailures)
	fmt.Fprintf(out, "Degraded steps: %d\n", st.Degraded)
	if st.LastError != "" {
		fmt.Fprintf(out, "Last error:     %s\n", color.YellowString(st.LastError))
	}
	return nil
}
