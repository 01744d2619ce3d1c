// Command bingo runs an organizer or a player session from the terminal.
package main

import (
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/HammerMeetNail/bingohall/internal/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "bingo"
	app.Usage = "Run a bingo game from the terminal"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "log at debug level",
			EnvVars: []string{"DEBUG"},
		},
		&cli.StringFlag{
			Name:    "profile",
			Usage:   "reveal timing profile (YAML)",
			EnvVars: []string{"REVEAL_PROFILE_PATH"},
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			logging.SetDefaultLevel(logging.LevelDebug)
		}
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Action:   organizeAction,
			Name:     "organize",
			Usage:    "Create a game and draw numbers",
			Category: "Game",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "auto-interval",
					Usage: "draw automatically at this interval (cron @every); 0 draws on Enter",
					Value: 10 * time.Second,
				},
				&cli.IntFlag{
					Name:  "draws",
					Usage: "stop after this many draws (0 draws until exhausted)",
				},
				&cli.BoolFlag{
					Name:  "memory",
					Usage: "run in-process with simulated players instead of Postgres",
				},
				&cli.IntFlag{
					Name:  "players",
					Usage: "simulated players in --memory mode",
					Value: 3,
				},
			},
			Description: `Creates a game, starts it, and draws with the reveal animation.
Each draw is announced to players, animated, and only then committed.`,
		},
		{
			Action:   playAction,
			Name:     "play",
			Usage:    "Join a game and follow the draws",
			Category: "Game",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "code", Usage: "game code", Required: true},
				&cli.StringFlag{Name: "name", Usage: "player name", Required: true},
				&cli.IntFlag{Name: "choices", Usage: "cards to choose from", Value: 3},
				&cli.IntFlag{Name: "pick", Usage: "card to take (1-based)", Value: 1},
			},
			Description: `Joins the game, takes a card, and prints marks, reach, bingo and rank
as numbers are committed. Rejoining with the same name resumes the participant.`,
		},
	}
	return app
}
