package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"Duet/internal/cli/bootstrap"
	"Duet/internal/cli/service"
	"Duet/internal/config"
	"Duet/internal/model"
)

type pairCmd struct{}

func (pairCmd) Name() string        { return "pair" }
func (pairCmd) Description() string { return "Send a pairing request by partner code" }
func (pairCmd) Usage() string       { return "pair <partnerCode>" }

func (pairCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		req, err := s.Client.CreatePairRequest(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "Pair request sent id=%s\n", req.ID)
		return nil
	})
}

type unpairCmd struct{}

func (unpairCmd) Name() string        { return "unpair" }
func (unpairCmd) Description() string { return "Ask the partner to dissolve the pair" }
func (unpairCmd) Usage() string       { return "unpair" }

func (unpairCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		req, err := s.Client.CreateUnpairRequest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "Unpair request sent id=%s\n", req.ID)
		return nil
	})
}

type requestsCmd struct{}

func (requestsCmd) Name() string        { return "requests" }
func (requestsCmd) Description() string { return "List pending pair/unpair requests" }
func (requestsCmd) Usage() string       { return "requests" }

func (requestsCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		rs, err := s.Client.Requests(ctx)
		if err != nil {
			return err
		}
		if len(rs.Incoming) == 0 && len(rs.Outgoing) == 0 {
			fmt.Fprintln(Out, "No requests")
			return nil
		}
		for _, r := range rs.Incoming {
			from := r.FromName
			if from == "" {
				from = r.FromCode
			}
			fmt.Fprintf(Out, "incoming %-6s id=%s from=%s status=%s expires=%s\n",
				r.Type, r.ID, from, r.Status, r.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
		for _, r := range rs.Outgoing {
			fmt.Fprintf(Out, "outgoing %-6s id=%s status=%s expires=%s\n",
				r.Type, r.ID, r.Status, r.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	})
}

type respondCmd struct{}

func (respondCmd) Name() string        { return "respond" }
func (respondCmd) Description() string { return "Accept or reject an incoming request" }
func (respondCmd) Usage() string       { return "respond <pair|unpair> <requestID> <accept|reject>" }

func (respondCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 3 {
		return ErrUsage
	}
	kind, id, decision := strings.ToLower(args[0]), args[1], strings.ToLower(args[2])
	if decision != "accept" && decision != "reject" {
		return ErrUsage
	}
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		var (
			req *model.RelationshipRequest
			err error
		)
		switch kind {
		case "pair":
			req, err = s.Client.RespondPairRequest(ctx, id, decision)
		case "unpair":
			req, err = s.Client.RespondUnpairRequest(ctx, id, decision)
		default:
			return ErrUsage
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(Out, "Request %s: %s\n", req.ID, req.Status)
		if decision != "accept" {
			return nil
		}
		// выводим общий ключ сразу или стираем беседу после разрыва
		if _, err := s.Messenger.Refresh(ctx); err != nil &&
			!errors.Is(err, service.ErrNotPaired) && !errors.Is(err, service.ErrPartnerKeyMissing) {
			return err
		}
		return nil
	})
}

func init() {
	RegisterCmd(pairCmd{})
	RegisterCmd(unpairCmd{})
	RegisterCmd(requestsCmd{})
	RegisterCmd(respondCmd{})
}
