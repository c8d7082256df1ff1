package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-client/internal/client"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/store"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
)

// Client wires a Session and its optional local cache.
type Client struct {
	Session *client.Session
	cache   store.Store
	log     *zerolog.Logger
}

// NewClient builds a session from cfg. A non-empty cfg.CachePath enables the SQLite cache.
func NewClient(cfg config.Config, logger *zerolog.Logger) (*Client, error) {
	opts := client.Options{Config: cfg, Logger: logger}

	var cache store.Store
	if cfg.CachePath != "" {
		st, err := sqlite.New(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		cache = st
		opts.Cache = st
		logger.Debug().Str("cache_path", cfg.CachePath).Msg("message cache enabled")
	}

	sess, err := client.New(opts)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}
	return &Client{Session: sess, cache: cache, log: logger}, nil
}

// Close stops the session and closes the cache.
func (a *Client) Close() {
	a.Session.Close()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close cache")
		}
	}
}

// History prints roomID, paging backwards up to pages extra times.
func (a *Client) History(ctx context.Context, roomID string, pages int, out io.Writer) error {
	if err := a.Session.OpenRoom(ctx, roomID); err != nil {
		return err
	}
	for i := 0; i < pages && a.Session.HasMore(roomID); i++ {
		if _, err := a.Session.LoadOlder(ctx, roomID); err != nil {
			return err
		}
	}
	for _, m := range a.Session.Messages(roomID) {
		fmt.Fprintln(out, formatMessage(m))
	}
	if a.Session.HasMore(roomID) {
		fmt.Fprintln(out, "-- older messages available --")
	}
	return nil
}

var errQuit = errors.New("quit")

// Chat runs an interactive line-based session on roomID until ctx ends,
// input is exhausted or the user types /quit.
//
// Commands: /older, /room <id>, /edit <id> <text>, /delete <id>, /who, /quit.
// Any other line is sent as a message.
func (a *Client) Chat(ctx context.Context, roomID string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format+"\n", args...)
	}

	sess := a.Session
	sess.Observe(func(ch core.Change) {
		if ch.RoomID != sess.ActiveRoom() {
			return
		}
		switch ch.Kind {
		case core.ChangeInserted:
			printf("%s", formatMessage(ch.Message))
		case core.ChangeUpdated:
			printf("* edited %s", formatMessage(ch.Message))
		case core.ChangeRemoved:
			if !ch.Message.Temporary() {
				printf("* deleted %s", ch.Message.ID)
			}
		}
	})

	sess.Connect(ctx)
	if err := sess.OpenRoom(ctx, roomID); err != nil {
		a.log.Warn().Err(err).Str("room_id", roomID).Msg("initial history unavailable")
	}
	for _, m := range sess.Messages(roomID) {
		printf("%s", formatMessage(m))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := a.command(gctx, strings.TrimSpace(line), printf); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.Disconnect()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func (a *Client) command(ctx context.Context, line string, printf func(string, ...any)) error {
	if line == "" {
		return nil
	}
	sess := a.Session
	roomID := sess.ActiveRoom()

	if !strings.HasPrefix(line, "/") {
		if err := sess.SendChatMessage(ctx, roomID, line, core.MessageTypeText, ""); err != nil {
			printf("! %v", err)
		}
		return nil
	}

	name, rest, _ := strings.Cut(line, " ")
	var err error
	switch name {
	case "/quit":
		return errQuit
	case "/older":
		var added int
		added, err = sess.LoadOlder(ctx, roomID)
		if err == nil {
			printf("* %d older messages (more: %v)", added, sess.HasMore(roomID))
		}
	case "/room":
		if err = sess.SwitchRoom(ctx, strings.TrimSpace(rest), false); err == nil {
			for _, m := range sess.Messages(sess.ActiveRoom()) {
				printf("%s", formatMessage(m))
			}
		}
	case "/edit":
		id, text, _ := strings.Cut(rest, " ")
		err = sess.EditMessage(ctx, roomID, id, text)
	case "/delete":
		err = sess.DeleteMessage(ctx, roomID, strings.TrimSpace(rest))
	case "/who":
		for _, id := range sess.Members(roomID) {
			printf("* %s %s", id, sess.Presence(id))
		}
	default:
		printf("! unknown command %s", name)
	}
	if err != nil {
		printf("! %v", err)
	}
	return nil
}

func formatMessage(m core.Message) string {
	name := m.UserName
	if name == "" {
		name = m.UserID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s <%s>: %s", m.Time.Local().Format("15:04:05"), m.ID, name, m.Text)
	if m.Edited {
		b.WriteString(" (edited)")
	}
	if m.Temporary() {
		b.WriteString(" (sending)")
	}
	return b.String()
}
