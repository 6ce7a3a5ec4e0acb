package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/victorivanov/commsync/internal/auth"
	"github.com/victorivanov/commsync/internal/config"
	"github.com/victorivanov/commsync/internal/hub"
	"github.com/victorivanov/commsync/internal/metrics"
	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/transport"
)

// Set via -ldflags at build time.
var version = "dev"

const tokenExpiry = 24 * time.Hour

func main() {
	app := &cli.App{
		Name:  "commsync",
		Usage: "real-time message sync client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
				EnvVars: []string{"COMMSYNC_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "chat",
				Usage: "follow a channel and send each stdin line as a message",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "channel", Usage: "channel to open (defaults to the first listed)"},
				},
				Action: runChat,
			},
			{
				Name:      "send",
				Usage:     "send one message over the REST API",
				ArgsUsage: "<text>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "channel", Usage: "target channel", Required: true},
					&cli.StringFlag{Name: "reply-to", Usage: "thread parent message id"},
				},
				Action: runSend,
			},
			{
				Name:   "channels",
				Usage:  "list channels",
				Action: runChannels,
			},
			{
				Name:   "presence",
				Usage:  "list presence records",
				Action: runPresence,
			},
			{
				Name:   "token",
				Usage:  "mint an access token from auth.secret and user.id",
				Action: runToken,
			},
			{
				Name:  "version",
				Usage: "print version info",
				Action: func(*cli.Context) error {
					fmt.Printf("commsync %s\n", version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}

// accessToken returns auth.token, or mints one when only the shared secret
// is configured.
func accessToken(cfg *config.Config) (string, error) {
	if cfg.Auth.Token != "" {
		return cfg.Auth.Token, nil
	}
	if cfg.Auth.Secret == "" || cfg.User.ID == "" {
		return "", errors.New("auth.token or auth.secret with user.id is required")
	}
	name := cfg.User.Name
	if name == "" {
		name = cfg.User.ID
	}
	return auth.NewTokenService(cfg.Auth.Secret, tokenExpiry).GenerateAccessToken(cfg.User.ID, name)
}

func newAPI(cfg *config.Config, token string) *transport.API {
	return transport.NewAPI(cfg.Server.URL, token, &http.Client{Timeout: cfg.Transport.RequestTimeout})
}

// --- chat ---

func runChat(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	token, err := accessToken(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	socket := transport.NewSocket(transport.SocketConfig{
		URL:          cfg.GatewayURL(),
		Token:        token,
		AckTimeout:   cfg.Transport.AckTimeout,
		ReconnectMax: cfg.Transport.ReconnectMax,
		Logger:       log,
		Metrics:      m,
	})
	client := transport.NewClient(socket, newAPI(cfg, token), log, m)
	h := hub.New(client, hub.Options{
		SelfID:          cfg.User.ID,
		HistoryLimit:    cfg.Channels.HistoryLimit,
		TypingDebounce:  cfg.Typing.Debounce,
		TypingTTL:       cfg.Typing.TTL,
		PollInterval:    cfg.Presence.PollInterval,
		RefreshInterval: cfg.Channels.RefreshInterval,
		Logger:          log,
		Metrics:         m,
	})
	defer h.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &printer{hub: h, seen: make(map[string]bool)}
	h.Subscribe(p.onChange)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return socket.Run(ctx) })
	g.Go(func() error { return h.Run(ctx) })
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, reg, log) })
	}

	if err := h.Start(ctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	if channel := c.String("channel"); channel != "" {
		h.SelectChannel(ctx, channel)
	}

	lines := make(chan string)
	go scanLines(os.Stdin, lines)
	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				handleLine(ctx, h, line)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func scanLines(f *os.File, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// handleLine runs a slash command or sends the line as a message.
func handleLine(ctx context.Context, h *hub.Hub, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/join":
		h.SelectChannel(ctx, strings.TrimSpace(arg))
	case "/status":
		h.SetStatus(models.PresenceStatus(strings.TrimSpace(arg)))
	case "/call":
		t := models.CallAudio
		if strings.TrimSpace(arg) == "video" {
			t = models.CallVideo
		}
		h.StartCall(t)
	case "/hangup":
		h.EndCall()
	case "/accept":
		h.AcceptCall()
	default:
		h.SetInput(line)
		h.Submit(ctx)
	}
}

// printer writes messages of the active channel to stdout once each.
type printer struct {
	hub *hub.Hub

	mu      sync.Mutex
	seen    map[string]bool
	channel string
}

func (p *printer) onChange(change hub.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch change {
	case hub.SelectionChanged:
		p.channel = p.hub.ActiveChannel()
		clear(p.seen)
		fmt.Printf("--- #%s ---\n", p.channel)
	case hub.MessagesChanged:
		for _, m := range p.hub.Messages() {
			if p.seen[m.ID] {
				continue
			}
			p.seen[m.ID] = true
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.AuthorName, m.Content)
		}
	case hub.TypingChanged:
		if names := p.hub.TypingUsers(); len(names) > 0 {
			fmt.Printf("... %s typing\n", strings.Join(names, ", "))
		}
	case hub.CallChanged:
		call := p.hub.Call()
		switch {
		case call.Invite != nil:
			fmt.Printf("*** %s is calling (%s), /accept to join\n", call.Invite.From.Name, call.Invite.Type)
		case call.InCall():
			fmt.Printf("*** in %s call on #%s\n", call.Type, call.ChannelID)
		default:
			fmt.Println("*** call ended")
		}
	case hub.ConnectionChanged:
		if !p.hub.Connected() {
			fmt.Println("*** connection lost, using fallback")
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// --- send ---

func runSend(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	token, err := accessToken(cfg)
	if err != nil {
		return err
	}
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("message text is required")
	}

	in := transport.NewMessage{Content: text}
	if parent := c.String("reply-to"); parent != "" {
		in.ThreadParentID = &parent
	}
	msg, err := newAPI(cfg, token).CreateMessage(c.Context, c.String("channel"), in)
	if err != nil {
		return err
	}
	fmt.Println(msg.ID)
	return nil
}

// --- channels ---

func runChannels(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	token, err := accessToken(cfg)
	if err != nil {
		return err
	}
	channels, err := newAPI(cfg, token).ListChannels(c.Context)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		fmt.Printf("%-16s %-20s members=%d unread=%d\n", ch.ID, ch.Name, ch.Members, ch.UnreadCount)
	}
	return nil
}

// --- presence ---

func runPresence(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	token, err := accessToken(cfg)
	if err != nil {
		return err
	}
	records, err := newAPI(cfg, token).Presence(c.Context)
	if err != nil {
		return err
	}
	for _, p := range records {
		fmt.Printf("%-16s %-20s %s\n", p.UserID, p.UserName, p.Status)
	}
	return nil
}

// --- token ---

func runToken(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" || cfg.User.ID == "" {
		return errors.New("auth.secret and user.id are required")
	}
	cfg.Auth.Token = ""
	token, err := accessToken(cfg)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
