// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/backend"
	"github.com/pdiddy/deep-research/internal/claude"
	"github.com/pdiddy/deep-research/internal/corpus"
	"github.com/pdiddy/deep-research/internal/export"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/notify"
	"github.com/pdiddy/deep-research/internal/orchestrator"
	"github.com/pdiddy/deep-research/internal/sources"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/internal/streaming"
	"github.com/pdiddy/deep-research/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Research a question and print a cited report",
	Long: `Run starts a research session for the query and prints one progress line
per state to stderr. When the session finishes, the report is written to
stdout as Markdown (or JSON with --json).

The request can come from the arguments and flags, or from a YAML request
file with --request. Flags given explicitly override the file.

Searches that fail after retries do not stop the session; they are listed
as warnings and in the report. A session that fails in planning, fact
checking, or writing exits non-zero.`,
	Args: cobra.ArbitraryArgs,
	RunE: runResearch,
}

// runOptions are the run flags that act after the session ends.
type runOptions struct {
	JSON        bool
	ExportPath  string
	EmailTo     string
	SaveRequest string
}

func runResearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		cfg.Reasoning.Backend = "heuristic"
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	rf, err := requestFromFlags(cmd, args)
	if err != nil {
		return err
	}

	var opts runOptions
	opts.JSON, _ = cmd.Flags().GetBool("json")
	opts.ExportPath, _ = cmd.Flags().GetString("export")
	opts.EmailTo, _ = cmd.Flags().GetString("email")
	opts.SaveRequest, _ = cmd.Flags().GetString("save-request")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return research(ctx, cfg, rf, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// requestFromFlags builds the request file for this run: --request if
// given, then the query arguments and any flags set explicitly.
func requestFromFlags(cmd *cobra.Command, args []string) (orchestrator.RequestFile, error) {
	var rf orchestrator.RequestFile
	if path, _ := cmd.Flags().GetString("request"); path != "" {
		loaded, err := orchestrator.LoadRequestFile(path)
		if err != nil {
			return rf, err
		}
		rf = *loaded
	}

	if len(args) > 0 {
		rf.Request.Query = strings.Join(args, " ")
	}
	flags := cmd.Flags()
	if flags.Changed("depth") {
		s, _ := flags.GetString("depth")
		d, err := types.ParseDepth(s)
		if err != nil {
			return rf, err
		}
		rf.Request.Depth = d
	}
	if flags.Changed("style") {
		s, _ := flags.GetString("style")
		st, err := types.ParseStyle(s)
		if err != nil {
			return rf, err
		}
		rf.Request.Style = st
	}
	if flags.Changed("language") {
		s, _ := flags.GetString("language")
		rf.Request.Language = types.Language(s)
	}
	if flags.Changed("citation-style") {
		s, _ := flags.GetString("citation-style")
		cs, err := types.ParseCitationStyle(s)
		if err != nil {
			return rf, err
		}
		rf.Request.CitationStyle = cs
	}
	if flags.Changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		rf.Options.Concurrency = &n
	}
	if flags.Changed("retries") {
		n, _ := flags.GetInt("retries")
		rf.Options.SearchRetries = &n
	}
	if flags.Changed("no-gap-round") {
		off, _ := flags.GetBool("no-gap-round")
		on := !off
		rf.Options.EnableGapRound = &on
	}
	if flags.Changed("no-fact-check") {
		off, _ := flags.GetBool("no-fact-check")
		on := !off
		rf.Options.EnableFactCheck = &on
	}

	if strings.TrimSpace(rf.Request.Query) == "" {
		return rf, errors.New("query required: pass it as arguments or in a --request file")
	}
	rf.Request = rf.Request.WithDefaults()
	if err := rf.Request.Validate(); err != nil {
		return rf, err
	}
	return rf, nil
}

// research runs one session end to end and delivers the report.
func research(ctx context.Context, cfg types.Config, rf orchestrator.RequestFile, opts runOptions, stdout, stderr io.Writer) error {
	if opts.SaveRequest != "" {
		if err := orchestrator.WriteRequestFile(opts.SaveRequest, rf); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Saved request to %s\n", opts.SaveRequest)
	}

	b, cleanup, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var sinks []orchestrator.EventSink
	if cfg.Streaming.RedisAddr != "" {
		sink, err := streaming.NewRedisSink(ctx, cfg.Streaming, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("Metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	orchCfg := rf.Options.Apply(cfg.Orchestrator)
	orch := orchestrator.New(b, orchCfg, logger, sinks...)
	sess, err := orch.Start(ctx, rf.Request)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Session %s: %q (%s, budget %d)\n",
		sess.ID, rf.Request.Query, rf.Request.Depth, rf.Request.Depth.Budget())
	for ev := range sess.Events() {
		fmt.Fprintf(stderr, "[%d] %-13s %3.0f%%  %s\n", ev.Seq, ev.State, ev.Progress*100, ev.Detail)
	}

	rep, err := sess.Wait()
	if err != nil {
		var sf *orchestrator.StageFailure
		if errors.As(err, &sf) && sf.Reason == orchestrator.ReasonCancelled {
			return fmt.Errorf("research cancelled during %s", sf.Stage)
		}
		return err
	}

	for _, u := range rep.Unresolved {
		fmt.Fprintf(stderr, "warning: search %s unresolved after %d attempt(s): %s\n", u.PlanItemID, u.Attempts, u.Message)
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprint(stdout, export.RenderMarkdown(rep))
	}

	return deliver(rep, cfg.Email, opts, stderr)
}

// deliver exports and emails the report. The two are independent: a failed
// export does not skip the email, and the returned error joins both.
func deliver(rep *types.ResearchReport, email types.EmailConfig, opts runOptions, stderr io.Writer) error {
	var errs []error
	if opts.ExportPath != "" {
		if format, err := exportReport(rep, opts.ExportPath); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(stderr, "Exported %s report to %s\n", format, opts.ExportPath)
		}
	}

	if opts.EmailTo != "" {
		if err := emailReport(rep, email, opts.EmailTo); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(stderr, "Emailed report to %s\n", opts.EmailTo)
		}
	}
	return errors.Join(errs...)
}

// exportReport writes rep in the format named by the path's extension and
// returns that format.
func exportReport(rep *types.ResearchReport, path string) (string, error) {
	exp, err := export.ForPath(path)
	if err != nil {
		return "", err
	}
	if err := exp.Export(rep, path); err != nil {
		return "", fmt.Errorf("exporting %s report: %w", exp.Format(), err)
	}
	return exp.Format(), nil
}

func emailReport(rep *types.ResearchReport, cfg types.EmailConfig, to string) error {
	mailer, err := notify.NewMailer(cfg, logger)
	if err != nil {
		return err
	}
	return mailer.Send(rep, to)
}

// buildBackend wires the reasoning and search backends behind a router.
// The returned cleanup closes the corpus when one was opened.
func buildBackend(cfg types.Config, logger *zap.Logger) (stage.Backend, func(), error) {
	cleanup := func() {}

	var reasoning stage.Backend
	switch strings.ToLower(strings.TrimSpace(cfg.Reasoning.Backend)) {
	case "", "claude":
		if cfg.Reasoning.APIKey == "" {
			return nil, cleanup, errors.New("no Anthropic API key: add .secrets/anthropic-api-key, set DEEP_RESEARCH_REASONING_API_KEY, or use --offline")
		}
		reasoning = claude.New(cfg.Reasoning, logger)
	case "heuristic":
		reasoning = &backend.Heuristic{}
	default:
		return nil, cleanup, fmt.Errorf("unknown reasoning backend %q: use claude or heuristic", cfg.Reasoning.Backend)
	}

	var corpusProvider sources.Provider
	for _, p := range cfg.Search.Providers {
		if strings.EqualFold(strings.TrimSpace(p), "corpus") {
			store, err := corpus.Open(cfg.Corpus)
			if err != nil {
				return nil, cleanup, err
			}
			corpusProvider = &corpus.Provider{Store: store}
			cleanup = func() { store.Close() }
			break
		}
	}

	searcher, err := sources.New(sources.Options{Config: cfg.Search, Logger: logger, Corpus: corpusProvider})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return backend.Instrument(&backend.Router{Reasoning: reasoning, Search: searcher}, logger), cleanup, nil
}

// addRunFlags registers the run flags on cmd.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("depth", "standard", "search budget: quick (3), standard (5), or deep (10)")
	cmd.Flags().String("style", "business", "report style: academic, business, news, or executive")
	cmd.Flags().String("language", "en", "report language tag (en, zh-TW, zh-CN, ja, ko, ...)")
	cmd.Flags().String("citation-style", "apa", "reference format: apa, mla, chicago, or none")
	cmd.Flags().String("request", "", "YAML request file")
	cmd.Flags().String("save-request", "", "write the effective request to a YAML file before running")
	cmd.Flags().Int("concurrency", 0, "maximum concurrent searches (overrides config)")
	cmd.Flags().Int("retries", 0, "retries per failing search; 0 disables retrying (overrides config)")
	cmd.Flags().Bool("no-gap-round", false, "skip the gap analysis round")
	cmd.Flags().Bool("no-fact-check", false, "score sources by type only, without the fact-check stage")
	cmd.Flags().Bool("offline", false, "use the heuristic reasoning backend instead of Claude")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	cmd.Flags().String("export", "", "also write the report to a file (.md, .json, .yaml, .docx)")
	cmd.Flags().String("email", "", "email the report to this address")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
