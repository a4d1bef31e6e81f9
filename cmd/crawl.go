package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/humancrawl/internal/crawler"
)

type crawlFlags struct {
	method      string
	headers     []string
	stealth     string
	includeBody bool
	retry       bool
}

// newCrawlCmd creates the 'crawl' subcommand. One URL is crawled on its
// own; several are walked as one session with reading pauses in between.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <url>...",
		Short: "Crawl one or more URLs as a humanlike session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringArrayVarP(&flags.headers, "header", "H", nil, `extra request header, "Name: value" (repeatable)`)
	cmd.Flags().StringVar(&flags.stealth, "stealth", "", "override stealth level (low, medium, high, paranoid)")
	cmd.Flags().BoolVar(&flags.includeBody, "include-body", false, "print response bodies")
	cmd.Flags().BoolVar(&flags.retry, "retry", false, "retry transient failures of a single URL within the retry budget")
	return cmd
}

type crawlOutput struct {
	crawler.Result
	Body string `json:"body,omitempty"`
}

func runCrawl(cmd *cobra.Command, urls []string, flags *crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	orch := appInstance.Orchestrator()
	if flags.stealth != "" {
		if err := orch.SetStealthLevel(crawler.StealthLevel(flags.stealth)); err != nil {
			return fmt.Errorf("set stealth level: %w", err)
		}
	}
	headers, err := parseHeaders(flags.headers)
	if err != nil {
		return err
	}
	opts := crawler.Options{Method: flags.method, Headers: headers}

	var results []crawler.Result
	if len(urls) == 1 {
		crawl := orch.Crawl
		if flags.retry {
			crawl = orch.CrawlWithRetry
		}
		results = []crawler.Result{crawl(cmd.Context(), urls[0], opts)}
	} else {
		batch := orch.CrawlBatch(cmd.Context(), urls, crawler.BatchOptions{Options: opts})
		results = batch.Results
		appInstance.Logger().Info("batch finished",
			zap.Int("total", batch.Total),
			zap.Int("completed", batch.Completed),
			zap.Int("successful", batch.Successful),
		)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range results {
		out := crawlOutput{Result: r}
		if flags.includeBody {
			out.Body = string(r.Body)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	m := orch.Metrics()
	appInstance.Logger().Info("crawl command finished",
		zap.Int64("requests", m.Requests),
		zap.Float64("success_rate", m.SuccessRate),
		zap.Float64("detection_rate", m.DetectionRate),
	)
	return nil
}

func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	h := make(http.Header, len(raw))
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
