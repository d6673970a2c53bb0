// Command hopqa answers one HotpotQA style question with the multi-hop agent.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/smhanov/multihop"
	"github.com/smhanov/multihop/corpus"
	"github.com/smhanov/multihop/oracle"
)

type options struct {
	backend   string
	endpoint  string
	apiKey    string
	model     string
	rateLimit float64

	item     string
	index    int
	question string
	config   string

	debug       bool
	logFormat   string
	jsonOutput  bool
	gold        bool
	metricsFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "hopqa --item <file|url> [--index N]",
		Short: "Answer a multi-hop question over its candidate documents",
		Long: `hopqa loads a HotpotQA style item (a single object or an array) from a
file or URL, runs the planner/reasoner loop over its context documents and
prints the answer together with the plan that produced it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.backend, "backend", "openai", "Oracle backend: openai or ollama")
	f.StringVar(&opts.endpoint, "endpoint", "", "Backend base URL (OpenAI compatible API or Ollama server)")
	f.StringVar(&opts.apiKey, "api-key", "", "API key for the openai backend (default $OPENAI_API_KEY)")
	f.StringVar(&opts.model, "model", "gpt-4o-mini", "Model name")
	f.Float64Var(&opts.rateLimit, "rate-limit", 0, "Maximum oracle calls per second (0 disables)")
	f.StringVar(&opts.item, "item", "", "HotpotQA item file or http(s) URL")
	f.IntVar(&opts.index, "index", 0, "Item index when the source holds an array")
	f.StringVar(&opts.question, "question", "", "Override the item's question")
	f.StringVar(&opts.config, "config", "", "YAML policy overlay")
	f.BoolVar(&opts.debug, "debug", false, "Log every oracle prompt and response")
	f.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print the full result as JSON")
	f.BoolVar(&opts.gold, "gold", false, "Show the item's gold answer next to the prediction")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(opts.logFormat, opts.debug, stderr)
	if err != nil {
		return err
	}

	items, err := corpus.NewLoader().Load(ctx, opts.item)
	if err != nil {
		return err
	}
	if opts.index < 0 || opts.index >= len(items) {
		return fmt.Errorf("index %d out of range (source holds %d items)", opts.index, len(items))
	}
	item := items[opts.index]
	question := item.Question
	if strings.TrimSpace(opts.question) != "" {
		question = opts.question
	}

	agentOpts := []multihop.Option{multihop.WithLogger(logger), multihop.WithDebug(opts.debug)}
	if opts.config != "" {
		policy, err := multihop.LoadPolicy(opts.config)
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, multihop.WithPolicy(policy))
	}

	o, err := newOracle(opts, logger)
	if err != nil {
		return err
	}
	agentOpts = append(agentOpts, multihop.WithOracle(o))

	res, err := multihop.New(agentOpts...).Run(ctx, question, item.Context)
	if opts.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(opts.metricsFile, prometheus.DefaultGatherer); werr != nil {
			logger.Warn("writing metrics failed", "path", opts.metricsFile, "error", werr)
		}
	}
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		out := struct {
			multihop.Result
			Question string `json:"question"`
			Gold     string `json:"gold,omitempty"`
		}{Result: res, Question: question}
		if opts.gold {
			out.Gold = item.Answer
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	printResult(stdout, question, res)
	if opts.gold {
		fmt.Fprintf(stdout, "\nGold: %s\n", item.Answer)
	}
	return nil
}

func newOracle(opts options, logger *slog.Logger) (multihop.Oracle, error) {
	adapterOpts := []oracle.Option{oracle.WithLogger(logger)}
	if opts.rateLimit > 0 {
		adapterOpts = append(adapterOpts, oracle.WithRateLimit(opts.rateLimit, 1))
	}

	switch opts.backend {
	case "openai":
		key := opts.apiKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, errors.New("openai backend needs --api-key or OPENAI_API_KEY")
		}
		return oracle.NewOpenAI(opts.model, key, opts.endpoint, adapterOpts...)
	case "ollama":
		endpoint := opts.endpoint
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		return oracle.NewOllama(opts.model, endpoint, adapterOpts...)
	default:
		return nil, fmt.Errorf("unknown backend %q (want openai or ollama)", opts.backend)
	}
}

func newLogger(format string, debug bool, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

func printResult(w io.Writer, question string, res multihop.Result) {
	fmt.Fprintf(w, "Question: %s\n", question)
	fmt.Fprintln(w, "---")
	fmt.Fprintln(w, "Plan:")
	for i, step := range res.Plan {
		mark := " "
		if i < len(res.StepAnswers) {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %s %d. %s\n", mark, i+1, step)
	}
	if len(res.StepAnswers) > 0 {
		fmt.Fprintln(w, "\nStep answers:")
		for _, a := range res.StepAnswers {
			fmt.Fprintf(w, "  %d. %s -> %s\n", a.StepIdx+1, a.Step, a.Answer)
		}
	}
	fmt.Fprintf(w, "\nAnswer:\n%s\n", res.Answer)
	fmt.Fprintf(w, "\nIterations: %d  Replans: %d  Cost: $%.4f\n", res.Iterations, res.Replans, res.Cost)
	fmt.Fprintln(w, "---")
}
