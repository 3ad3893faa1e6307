package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Duet/internal/cli/api"
	"Duet/internal/cli/bootstrap"
	"Duet/internal/cli/service"
	"Duet/internal/config"
)

// ErrLockedElsewhere - аккаунт активен на другой установке.
var ErrLockedElsewhere = bootstrap.ErrLockedElsewhere

// withSession открывает сессию вошедшего пользователя на время fn.
func withSession(ctx context.Context, cfg *config.Config, fn func(*bootstrap.Session) error) error {
	s, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// withConversation дополнительно требует взаимную пару и общий ключ.
func withConversation(ctx context.Context, cfg *config.Config, fn func(*bootstrap.Session, service.Conversation) error) error {
	return withSession(ctx, cfg, func(s *bootstrap.Session) error {
		conv, err := s.Messenger.Refresh(ctx)
		switch {
		case errors.Is(err, service.ErrNotPaired):
			return errors.New("not paired: use `pair <code>` first")
		case errors.Is(err, service.ErrPartnerKeyMissing):
			return errors.New("partner has not opened the app yet, try later")
		case err != nil:
			return err
		}
		return fn(s, *conv)
	})
}

// finishAuth захватывает сессию и только затем сохраняет токен и логин.
func finishAuth(ctx context.Context, cfg *config.Config, c *api.Client, a *api.Auth) error {
	if err := bootstrap.AcquireLock(ctx, cfg, c); err != nil {
		return err
	}
	if err := bootstrap.AuthStore(cfg).Save(c.Token()); err != nil {
		return fmt.Errorf("saving auth: %w", err)
	}
	return bootstrap.Remember(cfg, a.Login, a.UID)
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func speaker(self, partner string, l service.Line) string {
	if l.SenderID == self {
		return "me"
	}
	if partner != "" {
		return partner
	}
	return "partner"
}

// formatLine - строка ленты: время, автор, текст, статус и реакции.
func formatLine(self, partner string, l service.Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", stamp(l.SentAt), speaker(self, partner, l))
	if l.Undecryptable {
		b.WriteString("<cannot decrypt>")
	} else {
		b.WriteString(l.Text)
	}
	if l.Status != "" {
		fmt.Fprintf(&b, " (%s)", l.Status)
	}
	if len(l.Reactions) > 0 {
		emojis := make([]string, 0, len(l.Reactions))
		for _, r := range l.Reactions {
			emojis = append(emojis, r.Emoji)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(emojis, " "))
	}
	fmt.Fprintf(&b, "  id=%s", l.ID)
	return b.String()
}
