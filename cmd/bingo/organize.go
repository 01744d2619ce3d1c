package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/reveal"
	"github.com/HammerMeetNail/bingohall/internal/session"
)

type organizeOptions struct {
	maxDraws int
	players  int
	out      io.Writer
	profile  reveal.Profile
	logger   *logging.Logger
	// triggers asks for one draw per receive; a closed channel ends the game.
	triggers <-chan struct{}
}

func organizeAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cliLogger(c)
	profile, err := reveal.LoadProfile(c.String("profile"))
	if err != nil {
		return err
	}

	var b *backend
	if c.Bool("memory") {
		b = newMemoryBackend(10)
	} else {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if b, err = connectBackend(ctx, cfg, logger); err != nil {
			return err
		}
	}
	defer b.Close()

	opts := organizeOptions{
		maxDraws: c.Int("draws"),
		out:      os.Stdout,
		profile:  profile,
		logger:   logger,
	}
	if c.Bool("memory") {
		opts.players = c.Int("players")
	}

	if interval := c.Duration("auto-interval"); interval > 0 {
		triggers, stopCron, err := cronTriggers(interval)
		if err != nil {
			return err
		}
		defer stopCron()
		opts.triggers = triggers
	} else {
		fmt.Fprintln(opts.out, "Press Enter to draw, Ctrl-D to finish.")
		opts.triggers = lineTriggers(ctx, os.Stdin)
	}

	return runOrganize(ctx, b, opts)
}

// cronTriggers fires on an "@every" schedule. A tick that arrives while the
// previous draw is still pending is dropped.
func cronTriggers(interval time.Duration) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	sched := cron.New()
	_, err := sched.AddFunc("@every "+interval.String(), func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scheduling draws: %w", err)
	}
	sched.Start()
	return ch, func() { <-sched.Stop().Done() }, nil
}

func lineTriggers(ctx context.Context, r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func runOrganize(ctx context.Context, b *backend, opts organizeOptions) error {
	revealOpts := []reveal.Option{reveal.WithProfile(opts.profile)}

	org, err := session.NewOrganizer(ctx, session.OrganizerConfig{
		Store:         b.store,
		Feed:          b.feed,
		Bus:           b.bus,
		RevealOptions: append(slices.Clone(revealOpts), reveal.WithDisplay(newTermDisplay(opts.out, "Drawing"))),
		Logger:        opts.logger,
	})
	if err != nil {
		return fmt.Errorf("creating game: %w", err)
	}
	defer org.Close()

	game := org.Game()
	fmt.Fprintf(opts.out, "Game %s created (organizer key %s)\n", game.Code, org.Key())

	for i := 1; i <= opts.players; i++ {
		p, err := session.JoinGame(ctx, session.PlayerConfig{
			Store:         b.store,
			Feed:          b.feed,
			Bus:           b.bus,
			RevealOptions: revealOpts,
			Logger:        opts.logger,
		}, game.Code, fmt.Sprintf("player-%d", i))
		if err != nil {
			return fmt.Errorf("joining simulated player: %w", err)
		}
		defer p.Close()
		if err := p.ChooseCard(ctx, p.CardChoices(1)[0]); err != nil {
			return fmt.Errorf("choosing card: %w", err)
		}
	}

	if err := org.Start(ctx); err != nil {
		return fmt.Errorf("starting game: %w", err)
	}

	draws := 0
loop:
	for opts.maxDraws == 0 || draws < opts.maxDraws {
		select {
		case <-ctx.Done():
			break loop
		case _, ok := <-opts.triggers:
			if !ok {
				break loop
			}
		}

		n, err := org.Draw(ctx)
		switch {
		case errors.Is(err, session.ErrDrawInProgress):
			continue
		case errors.Is(err, session.ErrDrawingDisabled):
			fmt.Fprintln(opts.out, "All numbers have been drawn.")
			break loop
		case errors.Is(err, context.Canceled):
			break loop
		case errors.Is(err, session.ErrCommitFailed):
			// The number was revealed but not stored; the next trigger draws again.
			fmt.Fprintf(opts.out, "Draw not committed: %v\n", err)
			continue
		case err != nil:
			return fmt.Errorf("drawing: %w", err)
		}
		draws++
		opts.logger.Debug("Number committed", map[string]interface{}{"number": n, "draws": draws})
	}

	// The session may already be cancelled; finishing and reporting still
	// need the store.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := org.Finish(finishCtx); err != nil {
		return fmt.Errorf("finishing game: %w", err)
	}
	list, err := b.store.ListParticipants(finishCtx, game.ID)
	if err != nil {
		return fmt.Errorf("listing participants: %w", err)
	}
	printLeaderboard(opts.out, list)
	return nil
}

func printLeaderboard(w io.Writer, list []models.Participant) {
	slices.SortStableFunc(list, models.ByLeaderboard)
	fmt.Fprintln(w, "Leaderboard:")
	for _, p := range list {
		switch {
		case p.BingoRank != nil:
			fmt.Fprintf(w, "  #%d %s\n", *p.BingoRank, p.UserName)
		case p.IsReach:
			fmt.Fprintf(w, "  -- %s (reach)\n", p.UserName)
		default:
			fmt.Fprintf(w, "  -- %s\n", p.UserName)
		}
	}
}

// cliLogger writes to stderr so log lines do not break the reveal line.
func cliLogger(c *cli.Context) *logging.Logger {
	logger := logging.New().SetOutput(os.Stderr).SetLevel(logging.LevelWarn)
	if c.Bool("debug") {
		logger.SetLevel(logging.LevelDebug)
	}
	return logger
}
