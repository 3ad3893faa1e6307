package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"Duet/internal/cli/api"
	"Duet/internal/cli/bootstrap"
	"Duet/internal/cli/service"
	"Duet/internal/config"
	"Duet/internal/timeline"
)

const defaultHistoryLimit = 20

type sendCmd struct{}

func (sendCmd) Name() string        { return "send" }
func (sendCmd) Description() string { return "Encrypt and send a message to the partner" }
func (sendCmd) Usage() string       { return "send <text...>" }

func (sendCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		msg, err := s.Messenger.Send(ctx, conv, text)
		if err != nil {
			return fmt.Errorf("message not sent: %w", err)
		}
		fmt.Fprintf(Out, "Sent id=%s\n", msg.ID)
		return nil
	})
}

type syncCmd struct{}

func (syncCmd) Name() string        { return "sync" }
func (syncCmd) Description() string { return "Fetch, decrypt and acknowledge new messages" }
func (syncCmd) Usage() string       { return "sync" }

func (syncCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		msgs, err := s.Messenger.Sync(ctx, conv)
		for _, m := range msgs {
			fmt.Fprintln(Out, formatLine(s.UID, conv.PartnerName, service.Line{Message: m}))
		}
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(Out, "No new messages")
		}
		return nil
	})
}

type historyCmd struct{}

func (historyCmd) Name() string        { return "history" }
func (historyCmd) Description() string { return "Show the conversation, newest page first" }
func (historyCmd) Usage() string       { return "history [--limit N] [--before <ts>:<id>]" }

func (historyCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", defaultHistoryLimit, "сообщений на странице")
	before := fs.String("before", "", "курсор страницы: <ts>:<id>")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 || *limit <= 0 {
		return ErrUsage
	}
	var cursor timeline.Cursor
	if *before != "" {
		c, err := parseCursor(*before)
		if err != nil {
			return ErrUsage
		}
		cursor = c
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		// первая страница подтягивает свежее окно с сервера
		if cursor.IsZero() {
			if _, err := s.Messenger.Bootstrap(ctx, conv); err != nil {
				return err
			}
		}
		lines, next, more, err := s.Messenger.Page(conv.ChatID, cursor, *limit)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			fmt.Fprintln(Out, "No messages")
			return nil
		}
		// страница по убыванию, читаем сверху вниз
		for i := len(lines) - 1; i >= 0; i-- {
			fmt.Fprintln(Out, formatLine(s.UID, conv.PartnerName, lines[i]))
		}
		if more {
			fmt.Fprintf(Out, "More: history --before %d:%s\n", next.At, next.ID)
		}
		return nil
	})
}

func parseCursor(s string) (timeline.Cursor, error) {
	ts, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return timeline.Cursor{}, fmt.Errorf("bad cursor %q", s)
	}
	at, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return timeline.Cursor{}, err
	}
	return timeline.Cursor{At: at, ID: id}, nil
}

type readCmd struct{}

func (readCmd) Name() string        { return "read" }
func (readCmd) Description() string { return "Mark a received message as read" }
func (readCmd) Usage() string       { return "read <messageID>" }

func (readCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		_, already, err := s.Messenger.MarkRead(ctx, conv, args[0])
		if api.IsCode(err, api.CodePermissionDenied) {
			return fmt.Errorf("only the recipient can mark a message as read")
		}
		if err != nil {
			return err
		}
		if already {
			fmt.Fprintln(Out, "Already read")
			return nil
		}
		fmt.Fprintln(Out, "Marked as read")
		return nil
	})
}

type reactCmd struct{}

func (reactCmd) Name() string        { return "react" }
func (reactCmd) Description() string { return "Set your reaction on a message" }
func (reactCmd) Usage() string       { return "react <messageID> <emoji>" }

func (reactCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		rs, err := s.Messenger.React(ctx, conv, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "Reactions: %d\n", len(rs))
		return nil
	})
}

type unreactCmd struct{}

func (unreactCmd) Name() string        { return "unreact" }
func (unreactCmd) Description() string { return "Remove your reaction from a message" }
func (unreactCmd) Usage() string       { return "unreact <messageID>" }

func (unreactCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		rs, err := s.Messenger.Unreact(ctx, conv, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "Reactions: %d\n", len(rs))
		return nil
	})
}

func init() {
	RegisterCmd(sendCmd{})
	RegisterCmd(syncCmd{})
	RegisterCmd(historyCmd{})
	RegisterCmd(readCmd{})
	RegisterCmd(reactCmd{})
	RegisterCmd(unreactCmd{})
}
