package commands

import (
	"context"
	"errors"
	"fmt"

	"Duet/internal/cli/bootstrap"
	"Duet/internal/cli/service"
	"Duet/internal/config"
)

type statusCmd struct{}

func (statusCmd) Name() string        { return "status" }
func (statusCmd) Description() string { return "Show account, pair code and partner" }
func (statusCmd) Usage() string       { return "status" }

func (statusCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		p, err := s.Client.Profile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "Login: %s\nPair code: %s\n", p.Login, p.PairCode)
		if p.FirstName != "" || p.LastName != "" {
			fmt.Fprintf(Out, "Name: %s %s\n", p.FirstName, p.LastName)
		}
		conv, err := s.Messenger.Refresh(ctx)
		switch {
		case errors.Is(err, service.ErrNotPaired):
			fmt.Fprintln(Out, "Not paired. Share your pair code with your partner.")
			return nil
		case errors.Is(err, service.ErrPartnerKeyMissing):
			fmt.Fprintln(Out, "Paired, waiting for the partner to open the app.")
			return nil
		case err != nil:
			return err
		}
		name := conv.PartnerName
		if name == "" {
			name = conv.PartnerUID
		}
		fmt.Fprintf(Out, "Partner: %s\nChat: %s\n", name, conv.ChatID)
		if conv.PartnerMood != "" {
			fmt.Fprintf(Out, "Partner mood: %s\n", conv.PartnerMood)
		}
		if conv.PartnerLocation != "" {
			fmt.Fprintf(Out, "Partner location: %s\n", conv.PartnerLocation)
		}
		return nil
	})
}

func init() { RegisterCmd(statusCmd{}) }
