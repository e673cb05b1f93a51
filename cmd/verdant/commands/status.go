package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/config"
	"github.com/verdant-labs/verdant/enrich"
	"github.com/verdant-labs/verdant/errors"
)

// StatusCmd queries a running daemon and renders its collection status.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running daemon's collection status",
	Long: `Query the local verdant daemon's status endpoint and render it.

Shows per-source health, today's collection counters, and enrichment
queue activity. The daemon must be running (see 'verdant serve').`,
	RunE: runStatus,
}

var (
	statusPort int
	statusJSON bool
)

func init() {
	StatusCmd.Flags().IntVar(&statusPort, "port", 0, "Daemon port (default from config)")
	StatusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output raw status JSON")
}

// daemonStatus mirrors the /api/status response body.
type daemonStatus struct {
	collect.Status
	Queue *enrich.QueueStats `json:"queue,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	port := statusPort
	if port <= 0 {
		if cfg, err := loadConfig(cmd); err == nil {
			port = cfg.Server.ServerPort()
		} else {
			port = config.DefaultServerPort
		}
	}

	url := fmt.Sprintf("http://localhost:%d/api/status", port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return errors.Wrapf(err, "daemon not reachable at %s (is 'verdant serve' running?)", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("daemon returned %s", resp.Status)
	}

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return errors.Wrap(err, "failed to decode status response")
	}

	if statusJSON {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format status")
		}
		fmt.Println(string(out))
		return nil
	}

	renderStatus(&status)
	return nil
}

func renderStatus(status *daemonStatus) {
	if status.IsRunning {
		pterm.Success.Println("Daemon running")
	} else {
		pterm.Warning.Println("Scheduler stopped")
	}

	pterm.DefaultSection.Println("Collection")
	pterm.Info.Printf("Overall health: %s\n", healthLabel(status.Health.Overall))
	pterm.Info.Printf("Collections today: %d (%d errors)\n", status.CollectionsToday, status.ErrorsToday)
	pterm.Info.Printf("Data collected: %s\n", formatBytes(status.TotalDataSize))

	if len(status.Health.PerCollector) > 0 {
		rows := pterm.TableData{{"Source", "Health", "Success rate", "Last collection", "Last error"}}
		for _, sourceType := range status.ActiveCollectors {
			health := status.Health.PerCollector[sourceType]
			last := "never"
			if t, ok := status.LastCollectionTimes[sourceType]; ok && !t.IsZero() {
				last = t.Local().Format("15:04:05")
			}
			rows = append(rows, []string{
				string(sourceType),
				healthLabel(health.Level),
				fmt.Sprintf("%.0f%%", health.SuccessRate*100),
				last,
				health.LastError,
			})
		}
		fmt.Println()
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}

	for _, issue := range status.Health.Issues {
		pterm.Warning.Println(issue)
	}

	if status.Queue != nil {
		pterm.DefaultSection.Println("Enrichment queue")
		pterm.Info.Printf("Queued: %d  Active: %d  Completed: %d  Failed: %d\n",
			status.Queue.Queued, status.Queue.Active, status.Queue.Completed, status.Queue.Failed)
	}

	if status.System != nil {
		pterm.DefaultSection.Println("System")
		pterm.Info.Printf("Memory: %.1f / %.1f GB (%.0f%%)\n",
			status.System.MemoryUsedGB, status.System.MemoryTotalGB, status.System.MemoryPercent)
	}
}

func healthLabel(level collect.HealthLevel) string {
	switch level {
	case collect.HealthHealthy:
		return pterm.Green(string(level))
	case collect.HealthWarning:
		return pterm.Yellow(string(level))
	case collect.HealthError:
		return pterm.Red(string(level))
	default:
		return string(level)
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
