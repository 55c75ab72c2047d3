package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/volcanion-company/volcanion-load-engine/internal/engine"
	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"gopkg.in/yaml.v3"
)

var (
	workloadFile string
	outputFile   string
	noColor      bool
)

// workload is the YAML shape of a run file.
type workload struct {
	Users       int            `yaml:"users"`
	DurationSec int            `yaml:"duration_sec"`
	MaxConns    int            `yaml:"max_connections"`
	Workers     int            `yaml:"workers"`
	Requests    []requestEntry `yaml:"requests"`
}

type requestEntry struct {
	Method    string                         `yaml:"method"`
	URL       string                         `yaml:"url"`
	Headers   string                         `yaml:"headers"`
	Body      string                         `yaml:"body"`
	TimeoutMs int                            `yaml:"timeout_ms"`
	WebSocket *protocol.WebSocketRequestData `yaml:"websocket"`
	Database  *protocol.DatabaseRequestData  `yaml:"database"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test",
	Long: `Run a load test from a workload file.

Examples:
  # Run from YAML file
  loadgen run -f workload.yaml

  # Run and save the metrics snapshot
  loadgen run -f workload.yaml -o results.json`,
	RunE: runWorkload,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&workloadFile, "file", "f", "", "workload file (YAML)")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file for results (JSON)")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	_ = runCmd.MarkFlagRequired("file")
	if err := runCmd.MarkFlagFilename("file", "yaml", "yml"); err != nil {
		panic(err)
	}
}

func runWorkload(_ *cobra.Command, _ []string) error {
	if noColor {
		color.NoColor = true
	}

	if err := logger.Init(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	data, err := os.ReadFile(workloadFile)
	if err != nil {
		return fmt.Errorf("failed to read workload file: %w", err)
	}

	var w workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to parse workload file: %w", err)
	}
	if len(w.Requests) == 0 {
		return fmt.Errorf("workload contains no requests")
	}
	if w.Users <= 0 {
		w.Users = 10
	}
	if w.DurationSec <= 0 {
		w.DurationSec = 10
	}
	if w.MaxConns <= 0 {
		w.MaxConns = 1000
	}
	if w.Workers <= 0 {
		w.Workers = 10
	}

	requests := make([]protocol.Request, 0, len(w.Requests))
	for _, s := range w.Requests {
		requests = append(requests, protocol.Request{
			Protocol:  protocol.Detect(s.URL),
			Method:    s.Method,
			URL:       s.URL,
			Headers:   s.Headers,
			Body:      s.Body,
			TimeoutMs: s.TimeoutMs,
			WebSocket: s.WebSocket,
			Database:  s.Database,
		})
	}

	eng, err := engine.New(w.MaxConns, w.Workers)
	if err != nil {
		return err
	}
	defer eng.Close()

	color.Cyan("Running %d request template(s), %d users, %ds\n", len(requests), w.Users, w.DurationSec)

	bar := progressbar.NewOptions(w.DurationSec,
		progressbar.OptionSetDescription("running"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	runErr := eng.StartLoadTest(requests, w.Users, w.DurationSec)
	close(done)
	if runErr != nil {
		return runErr
	}

	snapshot := eng.GetMetrics()
	printSummary(snapshot.TotalRequests, snapshot.SuccessfulRequests, snapshot.FailedRequests,
		snapshot.MinResponseTimeUs, snapshot.MaxResponseTimeUs, snapshot.AvgResponseTimeUs,
		snapshot.RequestsPerSec)

	if outputFile != "" {
		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(outputFile, out, 0644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		fmt.Printf("Results written to %s\n", outputFile)
	}

	return nil
}

func printSummary(total, successful, failed, minUs, maxUs uint64, avgUs, rps float64) {
	fmt.Println()
	color.New(color.Bold).Println("Results")
	fmt.Printf("  total requests:  %d\n", total)
	color.Green("  successful:      %d", successful)
	if failed > 0 {
		color.Red("  failed:          %d", failed)
	} else {
		fmt.Printf("  failed:          %d\n", failed)
	}
	fmt.Printf("  min latency:     %.2f ms\n", float64(minUs)/1000.0)
	fmt.Printf("  avg latency:     %.2f ms\n", avgUs/1000.0)
	fmt.Printf("  max latency:     %.2f ms\n", float64(maxUs)/1000.0)
	fmt.Printf("  rate:            %.2f req/s\n", rps)
}
