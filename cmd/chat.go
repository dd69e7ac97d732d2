package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/chat"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/beagleboard/beaglemind/internal/services/session"
	"github.com/beagleboard/beaglemind/internal/services/tools"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const replHistoryFile = ".beaglemind_history"

type chatOptions struct {
	prompt      string
	backend     string
	model       string
	temperature float64
	interactive bool
	sources     bool
	noTools     bool
	collection  string
	stream      bool
	dataset     string
	strategy    string
	yes         bool
}

var chatOpts chatOptions

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask BeagleMind a question",
	Long: `Ask a question about BeagleBoard hardware, software or documentation.

Without a question BeagleMind starts an interactive session.

Examples:
  # One question, with the sources used
  beaglemind chat -p "How do I flash BeagleBone?" --sources

  # Use a local model
  beaglemind chat -b ollama -p "What is the PRU?"

  # Interactive session with streamed answers
  beaglemind chat -i --stream`,
	RunE: runChat,
}

func init() {
	bindChatFlags(chatCmd.Flags(), &chatOpts)
}

func bindChatFlags(f *pflag.FlagSet, o *chatOptions) {
	f.StringVarP(&o.prompt, "prompt", "p", "", "question to ask")
	f.StringVarP(&o.backend, "backend", "b", "", "backend: groq, openai or ollama")
	f.StringVarP(&o.model, "model", "m", "", "model name (default depends on the backend)")
	f.Float64VarP(&o.temperature, "temperature", "t", 0.3, "sampling temperature between 0 and 1")
	f.BoolVarP(&o.interactive, "interactive", "i", false, "start an interactive session")
	f.BoolVar(&o.sources, "sources", false, "show the sources used for each answer")
	f.BoolVar(&o.noTools, "no-tools", false, "answer without machine tools")
	f.StringVarP(&o.collection, "collection", "c", "", "knowledge base collection")
	f.BoolVar(&o.stream, "stream", false, "print the answer as it is generated")
	f.StringVar(&o.dataset, "dataset", "", "JSONL dataset to index before answering")
	f.StringVarP(&o.strategy, "strategy", "s", "", "search strategy: adaptive, multi_query, context_aware or default")
	f.BoolVar(&o.yes, "yes", false, "allow file writes and commands without asking")
}

// overrides turns the flags the user actually set into config overrides
func (o chatOptions) overrides(cmd *cobra.Command) config.Overrides {
	var ov config.Overrides
	flags := cmd.Flags()

	if flags.Changed("backend") {
		ov.Backend = &o.backend
		if !flags.Changed("model") {
			// the configured model may belong to another backend
			if p, err := llm.ParseProvider(o.backend); err == nil {
				m := p.DefaultModel()
				ov.Model = &m
			}
		}
	}
	if flags.Changed("model") {
		ov.Model = &o.model
	}
	if flags.Changed("temperature") {
		ov.Temperature = &o.temperature
	}
	if flags.Changed("collection") {
		ov.Collection = &o.collection
	}
	if flags.Changed("strategy") {
		ov.Strategy = &o.strategy
	}
	if o.sources {
		yes := true
		ov.ShowSources = &yes
	}
	if o.noTools {
		no := false
		ov.UseTools = &no
	}
	if o.yes {
		yes := true
		ov.AllowWrites = &yes
	}
	return ov
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt := chatOpts.prompt
	if prompt == "" && len(args) > 0 {
		prompt = strings.Join(args, " ")
	}

	resolver, err := newResolver()
	if err != nil {
		return err
	}
	cfg, err := resolver.Resolve(chatOpts.overrides(cmd))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, chatOpts.dataset)
	if err != nil {
		return err
	}

	registry, err := tools.NewBuiltinRegistry("")
	if err != nil {
		return err
	}

	approver := &promptApprover{ask: stdinAsker(), out: os.Stderr}
	orch, err := chat.NewOrchestrator(chat.Dependencies{
		Store:    store,
		Registry: registry,
		Approver: approver,
	})
	if err != nil {
		return err
	}

	s := &chatSession{cfg: cfg, orch: orch, stream: chatOpts.stream, out: os.Stdout}
	if chatOpts.interactive || prompt == "" {
		return s.repl(ctx, approver)
	}
	return s.ask(ctx, prompt)
}

// openStore opens the configured store and indexes dataset into it. A
// dataset without an index path is held in memory instead of the hosted
// knowledge base.
func openStore(ctx context.Context, cfg config.EffectiveConfig, dataset string) (retrieval.Store, error) {
	opts := cfg.StoreOptions()
	if dataset != "" {
		opts.RemoteURL = ""
	}
	store, err := retrieval.OpenStore(opts)
	if err != nil {
		return nil, err
	}
	if dataset == "" {
		return store, nil
	}

	report, err := retrieval.NewIndexer(store).IndexFile(ctx, cfg.Collection, dataset)
	if err != nil {
		return nil, err
	}
	for _, bad := range report.BadLines {
		fmt.Fprintln(os.Stderr, warningStyle.Render("Skipped "+bad.Error()))
	}
	fmt.Fprintln(os.Stderr, infoStyle.Render(fmt.Sprintf("Indexed %d chunks into %q (%d already present)", report.Added, cfg.Collection, report.Skipped)))
	return store, nil
}

type chatSession struct {
	cfg     config.EffectiveConfig
	orch    *chat.Orchestrator
	stream  bool
	history []models.Message
	out     io.Writer
}

// ask answers one question and records the turn
func (s *chatSession) ask(ctx context.Context, text string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	req := s.cfg.Query(text)

	var (
		answer *models.Answer
		err    error
	)
	if s.stream {
		answer, err = s.streamAnswer(ctx, req)
	} else {
		answer, err = s.orch.Answer(ctx, s.cfg, req, s.history)
		if err == nil {
			fmt.Fprintln(s.out, renderMarkdown(answer.Text))
		}
	}
	if err != nil {
		if chat.Classify(err) == chat.KindCancelled {
			return errors.New("cancelled")
		}
		return err
	}

	printAnswerFooter(s.out, answer, s.cfg.ShowSources)
	s.remember(text, answer.Text)
	return nil
}

func (s *chatSession) streamAnswer(ctx context.Context, req models.QueryRequest) (*models.Answer, error) {
	stream, err := s.orch.Stream(ctx, s.cfg, req, s.history)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintln(s.out)
			return nil, err
		}
		fmt.Fprint(s.out, fragment)
	}
	fmt.Fprintln(s.out)
	return stream.Answer(), nil
}

func (s *chatSession) remember(question, answer string) {
	s.history = append(s.history,
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleAssistant, Content: answer},
	)
	if len(s.history) > session.MaxHistory {
		s.history = s.history[len(s.history)-session.MaxHistory:]
	}
}

func (s *chatSession) repl(ctx context.Context, approver *promptApprover) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyPath = filepath.Join(home, replHistoryFile)
		if f, err := os.Open(historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyPath == "" {
			return
		}
		if f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	approver.ask = line.Prompt

	fmt.Fprintln(s.out, bannerStyle.Render("BeagleMind")+" "+infoStyle.Render(fmt.Sprintf("%s / %s, collection %q", s.cfg.Backend, s.cfg.Model, s.cfg.Collection)))
	fmt.Fprintln(s.out, infoStyle.Render("Type /help for commands, /exit to quit."))

	for {
		input, err := line.Prompt("beaglemind> ")
		if err != nil {
			// Ctrl+C or Ctrl+D ends the session
			fmt.Fprintln(s.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if !s.command(input) {
				return nil
			}
			continue
		}

		if err := s.ask(ctx, input); err != nil {
			printError(os.Stderr, err)
		}
	}
}

// command runs a slash command and reports whether the session goes on
func (s *chatSession) command(input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return false
	case "/help":
		fmt.Fprintln(s.out, infoStyle.Render(`Commands:
  /backend <groq|openai|ollama>  switch backend
  /model <name>                  switch model
  /temperature <0-1>             set sampling temperature
  /sources                       toggle source listing
  /tools                         toggle machine tools
  /stream                        toggle streamed answers
  /clear                         forget the conversation
  /exit                          quit`))
	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, okStyle.Render("Conversation cleared."))
	case "/sources":
		s.cfg.ShowSources = !s.cfg.ShowSources
		fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Sources %s.", onOff(s.cfg.ShowSources))))
	case "/tools":
		s.cfg.UseTools = !s.cfg.UseTools
		fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Tools %s.", onOff(s.cfg.UseTools))))
	case "/stream":
		s.stream = !s.stream
		fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Streaming %s.", onOff(s.stream))))
	case "/backend":
		p, err := llm.ParseProvider(arg)
		if err != nil {
			printError(os.Stderr, err)
			break
		}
		s.cfg.Backend = p
		s.cfg.Model = p.DefaultModel()
		fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Using %s / %s.", s.cfg.Backend, s.cfg.Model)))
	case "/model":
		if arg == "" {
			fmt.Fprintln(s.out, infoStyle.Render("Models: "+strings.Join(llm.Catalogue(s.cfg.Backend), ", ")))
			break
		}
		s.cfg.Model = arg
		fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Using %s / %s.", s.cfg.Backend, s.cfg.Model)))
	case "/temperature":
		t, err := strconv.ParseFloat(arg, 64)
		if err != nil || t < 0 || t > 1 {
			printError(os.Stderr, fmt.Errorf("temperature must be a number between 0 and 1"))
			break
		}
		s.cfg.Temperature = t
		fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Temperature %.2f.", t)))
	default:
		printError(os.Stderr, fmt.Errorf("unknown command %s, try /help", name))
	}
	return true
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
