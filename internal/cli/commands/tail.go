package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Duet/internal/cli/api"
	"Duet/internal/cli/bootstrap"
	"Duet/internal/cli/service"
	"Duet/internal/config"
	"Duet/internal/events"
)

const heartbeatEvery = 30 * time.Second

type tailCmd struct{}

func (tailCmd) Name() string        { return "tail" }
func (tailCmd) Description() string { return "Follow the conversation live (Ctrl-C to stop)" }
func (tailCmd) Usage() string       { return "tail" }

func (tailCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		if _, err := s.Messenger.Bootstrap(ctx, conv); err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go heartbeats(ctx, s.Messenger, conv)

		err := s.Messenger.Tail(ctx, conv, func(u service.Update) {
			printUpdate(s.UID, conv, u)
		})
		if errors.Is(err, api.ErrAccessRevoked) {
			fmt.Fprintln(Out, "The pair was dissolved; local conversation removed.")
			return nil
		}
		return err
	})
}

// heartbeats периодически сообщает собеседнику, что мы в сети.
func heartbeats(ctx context.Context, m *service.Messenger, conv service.Conversation) {
	t := time.NewTicker(heartbeatEvery)
	defer t.Stop()
	for {
		_ = m.Heartbeat(ctx, conv)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func printUpdate(self string, conv service.Conversation, u service.Update) {
	switch u.Kind {
	case events.KindMessageAppended:
		fmt.Fprintln(Out, formatLine(self, conv.PartnerName, service.Line{Message: *u.Message}))
	case events.KindReceiptUpsert:
		state := "delivered"
		if u.Receipt.ReadAt != nil {
			state = "read"
		}
		fmt.Fprintf(Out, "  %s %s\n", u.MessageID, state)
	case events.KindReactionsReplace:
		emojis := ""
		for _, r := range u.Reactions {
			emojis += r.Emoji
		}
		fmt.Fprintf(Out, "  %s reactions: %s\n", u.MessageID, emojis)
	case events.KindHeartbeat:
		fmt.Fprintf(Out, "  partner online at %s\n", u.OnlineAt.Local().Format("15:04:05"))
	}
}

func init() { RegisterCmd(tailCmd{}) }
