package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/steady/internal/api"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and registered queries of a running instance",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "base URL of a running instance (default http://localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	addr := statusAddr
	if addr == "" {
		cfg := loadConfig()
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	var network api.NetworkResponse
	if err := getJSON(client, addr+"/network", &network); err != nil {
		slog.Error("Failed to query network state", "error", err)
		os.Exit(1)
	}
	var queries struct {
		Queries []string `json:"queries"`
	}
	if err := getJSON(client, addr+"/queries", &queries); err != nil {
		slog.Error("Failed to list queries", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ONLINE\tFAILED\tOFFLINE UI\tLAST CHECK")
	_, _ = fmt.Fprintf(w, "%t\t%d\t%t\t%s\n",
		network.IsOnline,
		network.FailedRequests,
		network.ShouldShowOfflineUI,
		network.LastOnlineCheck.Format(time.RFC3339),
	)
	_ = w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "QUERY")
	for _, key := range queries.Queries {
		_, _ = fmt.Fprintln(w, key)
	}
	_ = w.Flush()
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: http %d: %s", url, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
