package commands

import (
	"context"
	"fmt"
	"strings"

	"Duet/internal/cli/api"
	"Duet/internal/cli/bootstrap"
	"Duet/internal/cli/service"
	"Duet/internal/config"
)

type nameCmd struct{}

func (nameCmd) Name() string        { return "name" }
func (nameCmd) Description() string { return "Set your display name" }
func (nameCmd) Usage() string       { return "name <first> [last]" }

func (nameCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return ErrUsage
	}
	first := args[0]
	last := ""
	if len(args) == 2 {
		last = args[1]
	}
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		if err := s.Client.UpdateProfile(ctx, api.ProfileUpdate{FirstName: &first, LastName: &last}); err != nil {
			return err
		}
		fmt.Fprintln(Out, "Name updated")
		return nil
	})
}

// statusFieldCmd - зашифрованное поле профиля, видимое только собеседнику.
type statusFieldCmd struct {
	field string
}

func (c statusFieldCmd) Name() string { return c.field }
func (c statusFieldCmd) Description() string {
	return fmt.Sprintf("Share your %s with the partner (encrypted)", c.field)
}
func (c statusFieldCmd) Usage() string { return c.field + " <text...>" }

func (c statusFieldCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	value := strings.TrimSpace(strings.Join(args, " "))
	if value == "" {
		return ErrUsage
	}
	return withConversation(ctx, cfg, func(s *bootstrap.Session, conv service.Conversation) error {
		var err error
		if c.field == "mood" {
			err = s.Messenger.SetStatus(ctx, conv, &value, nil)
		} else {
			err = s.Messenger.SetStatus(ctx, conv, nil, &value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "%s updated\n", strings.ToUpper(c.field[:1])+c.field[1:])
		return nil
	})
}

func init() {
	RegisterCmd(nameCmd{})
	RegisterCmd(statusFieldCmd{field: "mood"})
	RegisterCmd(statusFieldCmd{field: "location"})
}
