// Command alertme-agent runs the device-side capture pipeline and manages its credentials.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	u "github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/agent"
	"github.com/and161185/alertme/internal/cache"
	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/client"
	"github.com/and161185/alertme/internal/convert"
	"github.com/and161185/alertme/internal/input"
	"github.com/and161185/alertme/internal/keepalive"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/uifeed"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `alertme-agent
Usage:
  alertme-agent [-config file] [-state dir] [-debug] <cmd> [args]

Commands:
  version
  login    -user <uuid> -token <jwt>        (saves credentials)
  logout                                    (removes credentials, purges cache)
  list                                      (prints combinations)
  add      -target <uuid> -name <n> -seq <up,up,down> [-message m] [-id id]
  rm       -id <id>
  register-endpoint -token <push token>
  endpoints
  run                                       (capture until SIGINT/SIGTERM)
`

// app carries the global flags and process streams of one invocation.
type app struct {
	configPath string
	stateDir   string
	debug      bool

	stdin          io.Reader
	stdout, stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := realMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// realMain parses global flags and dispatches the subcommand. It returns the exit code.
func realMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("alertme-agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a.configPath, "config", agent.DefaultConfigPath(), "agent.toml path")
	fs.StringVar(&a.stateDir, "state", agent.StateDir(), "credentials directory")
	fs.BoolVar(&a.debug, "debug", false, "development logging")
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "alertme-agent %s (%s)\n", version, buildDate)
	case "login":
		err = a.login(rest)
	case "logout":
		err = a.logout(ctx)
	case "list":
		err = a.list(ctx)
	case "add":
		err = a.add(ctx, rest)
	case "rm":
		err = a.remove(ctx, rest)
	case "register-endpoint":
		err = a.registerEndpoint(ctx, rest)
	case "endpoints":
		err = a.endpoints(ctx)
	case "run":
		err = a.run(ctx)
	default:
		fs.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func (a *app) logger() *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if a.debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// session loads config and credentials and builds a client for the signed-in user.
func (a *app) session() (*agent.Config, agent.Credentials, *client.Client, error) {
	cfg, err := agent.LoadConfig(a.configPath)
	if err != nil {
		return nil, agent.Credentials{}, nil, err
	}
	creds, err := agent.LoadCredentials(a.stateDir)
	if err != nil {
		return nil, agent.Credentials{}, nil, err
	}
	return cfg, creds, client.New(cfg.ServerURL, creds.Token, cfg.Dispatch.Timeout), nil
}

func (a *app) login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	user := fs.String("user", "", "user id")
	token := fs.String("token", "", "bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := u.FromString(strings.TrimSpace(*user))
	if err != nil || id == u.Nil {
		return errors.New("need -user <uuid>")
	}
	creds := agent.NewCredentials(id, *token)
	if !creds.Valid(time.Now()) {
		return errors.New("need a non-expired -token")
	}
	if err := agent.SaveCredentials(a.stateDir, creds); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "ok")
	return nil
}

// logout purges the cached combinations of the stored user and removes the credentials.
func (a *app) logout(ctx context.Context) error {
	creds, err := agent.LoadCredentials(a.stateDir)
	if err == nil {
		if cfg, cerr := agent.LoadConfig(a.configPath); cerr == nil {
			if c, oerr := cache.Open(cfg.Cache.Path); oerr == nil {
				_ = c.Delete(ctx, creds.UserID)
				_ = c.Close()
			}
		}
	}
	if err := agent.RemoveCredentials(a.stateDir); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "ok")
	return nil
}

func (a *app) list(ctx context.Context) error {
	_, creds, cl, err := a.session()
	if err != nil {
		return err
	}
	cs, err := cl.Combinations(ctx, creds.UserID)
	if err != nil {
		return err
	}
	a.printJSON(convert.ToCombinations(cs))
	return nil
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	id := fs.String("id", "", "combination id (default: new uuid)")
	name := fs.String("name", "", "display name")
	target := fs.String("target", "", "friend user id")
	seq := fs.String("seq", "", "sequence, e.g. up,up,down or UUD")
	msg := fs.String("message", "", "alert body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tid, err := u.FromString(strings.TrimSpace(*target))
	if err != nil {
		return errors.New("need -target <uuid>")
	}
	s, err := parseSequence(*seq)
	if err != nil {
		return err
	}
	if *id == "" {
		*id = u.Must(u.NewV4()).String()
	}

	_, creds, cl, err := a.session()
	if err != nil {
		return err
	}
	out, err := cl.AddCombination(ctx, creds.UserID, model.Combination{
		ID: *id, Name: *name, TargetID: tid, Sequence: s, Message: *msg,
	})
	if err != nil {
		return err
	}
	a.printJSON(convert.ToCombination(out))
	a.notifyRunning()
	return nil
}

// notifyRunning pokes a running agent of the same state dir so it refreshes now.
func (a *app) notifyRunning() {
	ok, err := agent.NotifyRunning(a.stateDir)
	switch {
	case err != nil:
		fmt.Fprintln(a.stderr, "warning: running agent not notified:", err)
	case ok:
		fmt.Fprintln(a.stderr, "running agent notified")
	}
}

func (a *app) remove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	id := fs.String("id", "", "combination id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("need -id")
	}
	_, creds, cl, err := a.session()
	if err != nil {
		return err
	}
	if err := cl.DeleteCombination(ctx, creds.UserID, *id); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "ok")
	a.notifyRunning()
	return nil
}

func (a *app) registerEndpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register-endpoint", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	token := fs.String("token", "", "push delivery token of this device")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("need -token")
	}
	_, creds, cl, err := a.session()
	if err != nil {
		return err
	}
	e, err := cl.RegisterEndpoint(ctx, creds.UserID, *token)
	if err != nil {
		return err
	}
	a.printJSON(e)
	return nil
}

func (a *app) endpoints(ctx context.Context) error {
	_, creds, cl, err := a.session()
	if err != nil {
		return err
	}
	es, err := cl.ListEndpoints(ctx, creds.UserID)
	if err != nil {
		return err
	}
	a.printJSON(es)
	return nil
}

// run wires the capture session and blocks until ctx is cancelled. ChangedSignal
// (sent by add and rm) refreshes the combinations.
func (a *app) run(ctx context.Context) error {
	cfg, creds, cl, err := a.session()
	if err != nil {
		return err
	}
	log := a.logger()
	defer func() { _ = log.Sync() }()

	ka, err := keepalive.New(cfg.KeepAlive.Mode, log.Named("keepalive"))
	if err != nil {
		return err
	}
	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	deps := agent.SessionDeps{
		Source:    a.source(cfg, log),
		Remote:    cl,
		Cache:     store,
		KeepAlive: ka,
	}
	if cfg.Ack.Bell {
		deps.Ack = agent.NewBell(a.stdout)
	}

	sess := agent.NewSession(cfg, creds, deps, log)
	sess.Open(ctx)
	log.Info("agent running",
		zap.String("version", version),
		zap.String("server", cfg.ServerURL),
		zap.String("source", cfg.Input.Source),
		zap.Int("combinations", sess.Registry.Len()),
	)

	removePID, err := agent.WritePID(a.stateDir)
	if err != nil {
		log.Warn("pid file not written; add/rm cannot notify this agent", zap.Error(err))
	} else {
		defer removePID()
	}
	changed := make(chan os.Signal, 1)
	signal.Notify(changed, agent.ChangedSignal)
	defer signal.Stop(changed)

	feedErr := make(chan error, 1)
	if cfg.Feed.Addr != "" {
		feed := uifeed.New(sess.Capture, cfg.Feed.OriginPatterns, log.Named("feed"))
		feed.OnChanged(sess.CombinationsChanged)
		go func() { feedErr <- feed.Serve(ctx, cfg.Feed.Addr) }()
	}

	err = nil
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-changed:
			if cerr := sess.CombinationsChanged(ctx); cerr != nil {
				log.Warn("refresh on change failed", zap.Error(cerr))
			}
		case err = <-feedErr:
			log.Error("ui feed stopped", zap.Error(err))
			break wait
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := sess.Close(closeCtx, false); cerr != nil {
		log.Warn("session close", zap.Error(cerr))
	}
	log.Info("agent stopped")
	return err
}

func (a *app) source(cfg *agent.Config, log *zap.Logger) capture.EventSource {
	if cfg.Input.Source == agent.SourceStdin {
		return input.NewLines(a.stdin, log.Named("stdin"))
	}
	return input.NewEvdev(cfg.Input.Device, log.Named("evdev"))
}

// parseSequence accepts comma or space separated symbols, or a compact form like "UUD".
func parseSequence(s string) (model.Sequence, error) {
	s = strings.TrimSpace(s)
	var parts []string
	if strings.ContainsAny(s, ", ") {
		parts = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	} else {
		parts = strings.Split(s, "")
	}
	seq, err := model.ParseSequence(parts)
	if err != nil {
		return nil, err
	}
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	return seq, nil
}
