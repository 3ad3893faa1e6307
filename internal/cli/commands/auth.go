package commands

import (
	"context"
	"errors"
	"fmt"

	"Duet/internal/cli/api"
	"Duet/internal/cli/bootstrap"
	"Duet/internal/config"
)

type registerCmd struct{}

func (registerCmd) Name() string        { return "register" }
func (registerCmd) Description() string { return "Create an account and log in" }
func (registerCmd) Usage() string       { return "register <login> <password>" }

func (registerCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	c := api.NewClient(cfg.ServerURL, "")
	a, err := c.Register(ctx, args[0], args[1])
	if api.IsCode(err, api.CodePreconditionFailed) {
		return errors.New("login already in use")
	}
	if err != nil {
		return err
	}
	if err := finishAuth(ctx, cfg, c, a); err != nil {
		return err
	}
	fmt.Fprintf(Out, "Registered as %s\nPair code: %s\n", a.Login, a.PairCode)
	return nil
}

type loginCmd struct{}

func (loginCmd) Name() string        { return "login" }
func (loginCmd) Description() string { return "Log in and take the account session" }
func (loginCmd) Usage() string       { return "login <login> <password>" }

func (loginCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	c := api.NewClient(cfg.ServerURL, "")
	a, err := c.Login(ctx, args[0], args[1])
	if api.IsCode(err, api.CodeUnauthenticated) {
		return errors.New("invalid login or password")
	}
	if err != nil {
		return err
	}
	// токен сохраняется только после захвата сессии
	if err := finishAuth(ctx, cfg, c, a); err != nil {
		return err
	}
	fmt.Fprintf(Out, "Logged in as %s\n", a.Login)
	return nil
}

type logoutCmd struct{}

func (logoutCmd) Name() string        { return "logout" }
func (logoutCmd) Description() string { return "Release the session and forget the token" }
func (logoutCmd) Usage() string       { return "logout" }

func (logoutCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	auth := bootstrap.AuthStore(cfg)
	token, err := auth.Load()
	if err != nil || token == "" {
		fmt.Fprintln(Out, "Not logged in")
		return nil
	}
	id, err := auth.InstallationID()
	if err != nil {
		return err
	}
	res, err := api.NewClient(cfg.ServerURL, token).ReleaseSessionLock(ctx, id)
	if err != nil {
		// токен всё равно забываем; сессия освободится при следующем входе
		fmt.Fprintf(Out, "warning: session not released: %v\n", err)
	} else if !res.Released {
		fmt.Fprintf(Out, "Session was not held here (%s)\n", res.Outcome)
	}
	if err := auth.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(Out, "Logged out")
	return nil
}

func init() {
	RegisterCmd(registerCmd{})
	RegisterCmd(loginCmd{})
	RegisterCmd(logoutCmd{})
}
