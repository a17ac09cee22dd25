package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/tokligence/chatrelay/internal/bootstrap"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/consumer"
	"github.com/tokligence/chatrelay/internal/conversation"
	"github.com/tokligence/chatrelay/internal/logging"
	"github.com/tokligence/chatrelay/internal/version"
)

type sendCmd struct {
	Text         []string `arg:"positional" help:"message text"`
	Image        []string `arg:"--image,-i,separate" help:"image file to attach (jpeg, png, gif or webp); repeatable"`
	Conversation string   `arg:"--conversation,-c" help:"conversation id; a new conversation is started when empty"`
	Model        string   `arg:"--model,-m" help:"model for this conversation"`
	System       *string  `arg:"--system,-s" help:"system prompt for this conversation"`
}

type listCmd struct{}

type showCmd struct {
	ID string `arg:"positional,required" help:"conversation id"`
}

type renameCmd struct {
	ID    string   `arg:"positional,required" help:"conversation id"`
	Title []string `arg:"positional,required" help:"new title"`
}

type systemCmd struct {
	ID     string   `arg:"positional,required" help:"conversation id"`
	Prompt []string `arg:"positional" help:"system prompt; omit to clear"`
}

type deleteCmd struct {
	ID string `arg:"positional,required" help:"conversation id"`
}

type modelsCmd struct{}

type initCmd struct {
	Env         string `arg:"--env" default:"dev" help:"environment name"`
	DatabaseURL string `arg:"--database-url" help:"postgres:// DSN for the remote conversation store"`
	Force       bool   `arg:"--force" help:"overwrite existing files"`
}

type args struct {
	Root   string     `arg:"--root,env:CHATRELAY_ROOT" default:"." help:"directory holding config/setting.ini"`
	Send   *sendCmd   `arg:"subcommand:send" help:"send a message and stream the reply"`
	List   *listCmd   `arg:"subcommand:list" help:"list conversations"`
	Show   *showCmd   `arg:"subcommand:show" help:"print a conversation"`
	Rename *renameCmd `arg:"subcommand:rename" help:"rename a conversation"`
	System *systemCmd `arg:"subcommand:system" help:"set or clear a conversation's system prompt"`
	Delete *deleteCmd `arg:"subcommand:delete" help:"delete a conversation and its messages"`
	Models *modelsCmd `arg:"subcommand:models" help:"list available models"`
	Init   *initCmd   `arg:"subcommand:init" help:"write starter configuration files"`
}

func (args) Description() string {
	return "chatctl talks to a chat relay and keeps conversation history"
}

func (args) Version() string {
	return "chatctl " + version.FullInfo()
}

func main() {
	var a args
	p, err := arg.NewParser(arg.Config{Program: "chatctl"}, &a)
	if err != nil {
		log.Fatalf("there was an error in the definition of the Go struct: %v", err)
	}
	p.MustParse(os.Args[1:])
	if p.Subcommand() == nil {
		p.WriteUsage(os.Stdout)
		os.Exit(0)
	}

	if a.Init != nil {
		if err := runInit(a.Root, a.Init, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a args) error {
	cfg, err := config.LoadRelayConfig(a.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := cliLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	st, err := bootstrap.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cat, err := bootstrap.OpenCatalog(cfg)
	if err != nil {
		return err
	}
	model := cfg.DefaultModel
	if model == "" {
		model = cat.Default().ID
	}

	app := &app{
		catalog: cat,
		out:     os.Stdout,
		errOut:  os.Stderr,
	}
	client := consumer.New(cfg.RelayURL, &http.Client{Timeout: cfg.UpstreamTimeout})
	client.SetLogger(logger)
	app.svc = conversation.New(st, client,
		conversation.WithDefaults(model, ""),
		conversation.WithLogger(logger),
		conversation.WithStreamObserver(app.printDelta),
	)

	switch {
	case a.Send != nil:
		return app.send(ctx, a.Send)
	case a.List != nil:
		return app.list(ctx)
	case a.Show != nil:
		return app.show(ctx, a.Show.ID)
	case a.Rename != nil:
		return app.rename(ctx, a.Rename.ID, strings.Join(a.Rename.Title, " "))
	case a.System != nil:
		return app.system(ctx, a.System.ID, strings.Join(a.System.Prompt, " "))
	case a.Delete != nil:
		return app.delete(ctx, a.Delete.ID)
	case a.Models != nil:
		return app.models()
	}
	return nil
}

// cliLogger writes to log_file with a -cli suffix so the daemon and the CLI
// do not share a file. Stdout is reserved for replies.
func cliLogger(cfg config.RelayConfig) (*log.Logger, io.Closer, error) {
	var out io.Writer = io.Discard
	var closer io.Closer = io.NopCloser(nil)
	if path := strings.TrimSpace(cfg.LogFile); path != "" && path != "-" {
		ext := filepath.Ext(path)
		rw, err := logging.NewRotatingWriter(strings.TrimSuffix(path, ext)+"-cli"+ext, logging.DefaultMaxBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("init rotating log: %w", err)
		}
		out, closer = rw, rw
	}
	if cfg.LogLevel == "debug" {
		out = io.MultiWriter(out, os.Stderr)
	}
	prefix := fmt.Sprintf("[chatctl][%s][%s] ", cfg.Environment, strings.ToUpper(cfg.LogLevel))
	return log.New(out, prefix, log.LstdFlags|log.Lmicroseconds), closer, nil
}
