package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/reveal"
	"github.com/HammerMeetNail/bingohall/internal/session"
)

type playOptions struct {
	code    string
	name    string
	choices int
	pick    int
	out     io.Writer
	profile reveal.Profile
	logger  *logging.Logger
}

func playAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cliLogger(c)
	profile, err := reveal.LoadProfile(c.String("profile"))
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	b, err := connectBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return runPlay(ctx, b, playOptions{
		code:    c.String("code"),
		name:    c.String("name"),
		choices: c.Int("choices"),
		pick:    c.Int("pick"),
		out:     os.Stdout,
		profile: profile,
		logger:  logger,
	})
}

// statusPrinter prints one line per committed draw or claim, and reports
// when the game finishes.
type statusPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	name     string
	lastLine string
	finished chan struct{}
	once     sync.Once
}

func (s *statusPrinter) update(state session.PlayerState) {
	if state.Game == nil {
		return
	}
	if state.Participant.Card != nil {
		line := formatStatus(s.name, state.Game.DrawnNumbers, state.Evaluation, state.Participant)
		s.mu.Lock()
		if line != s.lastLine {
			s.lastLine = line
			fmt.Fprintln(s.out, line)
		}
		s.mu.Unlock()
	}
	if state.Game.Status == models.GameStatusFinished {
		s.once.Do(func() { close(s.finished) })
	}
}

func runPlay(ctx context.Context, b *backend, opts playOptions) error {
	printer := &statusPrinter{out: opts.out, name: opts.name, finished: make(chan struct{})}

	p, err := session.JoinGame(ctx, session.PlayerConfig{
		Store: b.store,
		Feed:  b.feed,
		Bus:   b.bus,
		RevealOptions: []reveal.Option{
			reveal.WithProfile(opts.profile),
			reveal.WithDisplay(newTermDisplay(opts.out, "Spinning")),
		},
		Logger:   opts.logger,
		OnUpdate: printer.update,
	}, opts.code, opts.name)
	if err != nil {
		return fmt.Errorf("joining game %s: %w", opts.code, err)
	}
	defer p.Close()

	if p.State().Participant.Card == nil {
		choices := p.CardChoices(opts.choices)
		if opts.pick < 1 || opts.pick > len(choices) {
			return fmt.Errorf("pick must be between 1 and %d", len(choices))
		}
		for i, card := range choices {
			fmt.Fprintf(opts.out, "Card %d:\n%s\n", i+1, formatCard(card))
		}
		if err := p.ChooseCard(ctx, choices[opts.pick-1]); err != nil {
			return fmt.Errorf("choosing card: %w", err)
		}
		fmt.Fprintf(opts.out, "Playing card %d.\n", opts.pick)
	} else {
		fmt.Fprintf(opts.out, "Resumed as %s.\n%s\n", opts.name, formatCard(p.State().Evaluation.Card))
	}

	select {
	case <-ctx.Done():
	case <-printer.finished:
		fmt.Fprintln(opts.out, "Game finished.")
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	list, err := p.Leaderboard(reportCtx)
	if err != nil {
		return err
	}
	printLeaderboard(opts.out, list)
	return nil
}
