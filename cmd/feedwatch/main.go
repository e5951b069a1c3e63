// Command feedwatch follows a user's notification feed on a schoolx server. It prints
// the newest notifications, then every insert as it arrives, and with -push mirrors
// inserts as terminal alerts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/feed"
	"github.com/charlesng35/schoolx/internal/forms"
	"github.com/charlesng35/schoolx/pkg/logger"
)

const tokenEnv = "SCHOOLX_TOKEN"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server   string
	token    string
	userID   string
	push     bool
	once     bool
	limit    int
	logLevel string
}

func parseFlags(args []string, out io.Writer) (options, error) {
	fs := flag.NewFlagSet("feedwatch", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts options
	fs.StringVar(&opts.server, "server", "http://localhost:8000", "Base URL of the schoolx server")
	fs.StringVar(&opts.token, "token", "", "Access token (defaults to $"+tokenEnv+")")
	fs.StringVar(&opts.userID, "user", "", "User id (defaults to the token subject)")
	fs.BoolVar(&opts.push, "push", false, "Grant notification permission and mirror inserts as alerts")
	fs.BoolVar(&opts.once, "once", false, "Print the feed and exit")
	fs.IntVar(&opts.limit, "limit", feed.DefaultLimit, "Number of notifications to load")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.token == "" {
		opts.token = os.Getenv(tokenEnv)
	}
	opts.token = strings.TrimSpace(opts.token)
	if opts.token == "" {
		return options{}, fmt.Errorf("a token is required: pass -token or set %s", tokenEnv)
	}
	if strings.TrimSpace(opts.userID) == "" {
		subject, err := tokenSubject(opts.token)
		if err != nil {
			return options{}, err
		}
		opts.userID = subject
	}
	return opts, nil
}

// tokenSubject reads the subject without verifying the signature; the server does that.
func tokenSubject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", errors.New("token has no subject; pass -user")
	}
	return subject, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}

	if err := logger.Init(opts.logLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.WithModule("feedwatch")

	remote, err := backend.NewRemote(opts.server, opts.token)
	if err != nil {
		return err
	}

	w := &syncWriter{w: out}

	permission := feed.NewStaticPermission(feed.PermissionDefault, feed.PermissionDenied)
	if opts.push {
		permission = feed.NewStaticPermission(feed.PermissionDefault, feed.PermissionGranted)
	}
	bridge := feed.NewPushBridge(permission, terminalNotifier{w: w})

	prefs := forms.NewPreferenceForm(opts.userID, remote, forms.WithPermission(permission), forms.WithBridge(bridge))
	if err := prefs.Load(ctx); err != nil {
		log.Warn("load preferences failed", zap.Error(err))
	}
	if opts.push {
		if _, err := prefs.RequestPushPermission(ctx); err != nil {
			log.Warn("enable push failed", zap.Error(err))
		}
	}

	printer := &feedPrinter{w: w}
	controller := feed.NewController(opts.userID, remote,
		feed.WithLimit(opts.limit),
		feed.WithLogger(log),
		feed.WithOnChange(printer.onChange),
	)
	defer controller.Close()

	if opts.once {
		printer.printFeed(controller.Load(ctx))
		return nil
	}

	lost := make(chan error, 1)
	subscriber := feed.NewSubscriber(remote, controller,
		feed.WithPushBridge(bridge),
		feed.WithSubscriberLogger(log),
		feed.WithStateChange(func(state feed.SubscriptionState, err error) {
			if state == feed.Disconnected && err != nil {
				select {
				case lost <- err:
				default:
				}
			}
		}),
	)
	if err := subscriber.Start(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = subscriber.Close() }()

	printer.printFeed(controller.Load(ctx))
	w.printf("watching for new notifications (push %s)\n", pushLabel(bridge))

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return fmt.Errorf("subscription lost: %w", err)
	}
}

func pushLabel(bridge *feed.PushBridge) string {
	switch {
	case bridge.Permission() == feed.PermissionDenied:
		return "blocked"
	case bridge.Enabled() && bridge.Permission() == feed.PermissionGranted:
		return "on"
	default:
		return "off"
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

type feedPrinter struct {
	w *syncWriter

	mu     sync.Mutex
	loaded bool
	length int
}

func (p *feedPrinter) printFeed(state feed.State) {
	p.mu.Lock()
	p.loaded = true
	p.length = len(state.Items)
	p.mu.Unlock()

	if len(state.Items) == 0 {
		p.w.printf("no notifications\n")
		return
	}
	p.w.printf("%d notifications, %d unread\n", len(state.Items), state.UnreadCount)
	for _, item := range state.Items {
		p.w.printf("%s\n", formatItem(item))
	}
}

// onChange prints entries prepended since the last change.
func (p *feedPrinter) onChange(state feed.State) {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return
	}
	added := len(state.Items) - p.length
	p.length = len(state.Items)
	p.mu.Unlock()

	for i := 0; i < added && i < len(state.Items); i++ {
		p.w.printf("new: %s (unread %d)\n", formatItem(state.Items[i]), state.UnreadCount)
	}
}

func formatItem(item backend.Notification) string {
	marker := " "
	if !item.Read {
		marker = "*"
	}
	badge := ""
	if feed.IsUrgent(item) {
		badge = " [URGENT]"
	}
	line := fmt.Sprintf("%s %s %s%s: %s", marker, item.CreatedAt.Local().Format("2006-01-02 15:04"), item.Type, badge, item.Title)
	if item.Message != "" {
		line += " - " + item.Message
	}
	return line
}

type terminalNotifier struct {
	w *syncWriter
}

func (n terminalNotifier) Show(title, body, _ string) error {
	n.w.printf("\a[push] %s: %s\n", title, body)
	return nil
}
