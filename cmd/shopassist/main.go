package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/infra/logger"
	"shopassist/internal/infra/tracer"
	"shopassist/internal/usecase/intent"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		exitOn("fatal", runServe())
		return
	}

	switch os.Args[1] {
	case "serve":
		exitOn("serve", runServe())
	case "ask":
		exitOn("ask", runAsk(os.Args[2:]))
	case "classify":
		exitOn("classify", runClassify(os.Args[2:]))
	case "secret":
		exitOn("secret", runSecret(os.Args[2:]))
	case "doctor":
		exitOn("doctor", runDoctor())
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'shopassist --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func exitOn(prefix string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`shopassist - Multi-agent shopping assistant

USAGE:
    shopassist [COMMAND] [FLAGS]

COMMANDS:
    serve                Run the HTTP API (default)
    ask MESSAGE          Route one message and print the reply
    classify MESSAGE     Print the routing decision for a message
    secret encrypt VAL   Encrypt a config value with SHOPASSIST_CONFIG_KEY
    doctor               Run health checks on your setup

FLAGS:
    -h, --help           Show this help message
    --config PATH        Config file path (default: ./config.yaml)
    --session ID         Session for ask and classify (default: cli)
    --json               Print ask and classify output as JSON

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults serve the demo catalog)
    Environment: SHOPASSIST_* variables override config

EXAMPLES:
    shopassist
    shopassist ask "show me sunglasses under $20"
    shopassist classify "what is the carbon footprint of the mug"
    SHOPASSIST_CONFIG_KEY=... shopassist secret encrypt sk-live-123`)
}

// configPath reads --config from os.Args, then SHOPASSIST_CONFIG.
func configPath() string {
	if p := flagValue(os.Args, "--config"); p != "" {
		return p
	}
	if p := os.Getenv("SHOPASSIST_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// flagValue returns the value of "--name v" or "--name=v" in args.
func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v
		}
	}
	return ""
}

// positional joins the arguments that are neither flags nor flag values.
func positional(args []string) string {
	valued := map[string]bool{"--config": true, "--session": true}
	var words []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case valued[arg]:
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			words = append(words, arg)
		}
	}
	return strings.Join(words, " ")
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func runServe() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	// 3. Assistant
	a, shutdown, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	// 4. HTTP
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	a.scheduler.Start(ctx)
	log.Info("shopassist ready",
		"addr", a.server.Addr(),
		"agents", a.protocol.Agents(),
		"catalog_live", a.catalog.Live(),
	)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func runAsk(args []string) error {
	message := positional(args)
	if message == "" {
		return errors.New("usage: shopassist ask MESSAGE")
	}
	sessionID := flagValue(args, "--session")
	if sessionID == "" {
		sessionID = "cli"
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Logger.Level = "error"
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	a, shutdown, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	res, _ := a.host.ProcessMessage(ctx, message, sessionID)
	return printResult(res, hasFlag(args, "--json"))
}

func printResult(res domain.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("[%v] %s\n", res["agent"], res.Response())
	return nil
}

func runClassify(args []string) error {
	message := positional(args)
	if message == "" {
		return errors.New("usage: shopassist classify MESSAGE")
	}
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c := intent.New(intent.WithPrecedence(intent.Precedence(cfg.Classifier.FollowUpPrecedence)))
	in := c.Classify(context.Background(), message, domain.ConversationContext{SessionID: flagValue(args, "--session")})

	if hasFlag(args, "--json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(in)
	}
	agent := in.PrimaryAgent
	if agent == "" {
		agent = "(none)"
	}
	fmt.Printf("agent:      %s\nintent:     %s\nconfidence: %.2f\nparameters: %v\n", agent, in.Type, in.Confidence, in.Parameters)
	return nil
}

func runSecret(args []string) error {
	if len(args) != 2 || args[0] != "encrypt" {
		return errors.New("usage: shopassist secret encrypt VALUE")
	}
	passphrase := os.Getenv("SHOPASSIST_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("SHOPASSIST_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[1], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
