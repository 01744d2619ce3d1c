package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/reveal"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type PlayerConfig struct {
	Store         Store
	Feed          realtime.ChangeFeed
	Bus           realtime.Broadcaster
	Generator     *bingo.Generator
	RevealOptions []reveal.Option
	Logger        *logging.Logger
	// OnUpdate runs after every state change the player observes.
	OnUpdate func(state PlayerState)
}

// PlayerState is the participant's view of the game at one point in time.
type PlayerState struct {
	Game        *models.Game
	Participant *models.Participant
	Evaluation  bingo.Evaluation
}

// Player is one participant's session. Reach and bingo are claimed
// automatically the first time the card reaches them.
type Player struct {
	cfg    PlayerConfig
	client *Client
	logger *logging.Logger

	mu           sync.Mutex
	participant  *models.Participant
	eval         bingo.Evaluation
	reachClaimed bool
	bingoClaimed bool
}

// JoinGame joins the game with code as userName, or resumes the existing
// participant of that name.
func JoinGame(ctx context.Context, cfg PlayerConfig, code, userName string) (*Player, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default
	}
	if cfg.Generator == nil {
		cfg.Generator = bingo.NewGenerator(nil)
	}

	game, err := cfg.Store.GetGameByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	participant, created, err := cfg.Store.Join(ctx, game.ID, userName)
	if err != nil {
		return nil, err
	}

	p := &Player{
		cfg:          cfg,
		participant:  participant,
		reachClaimed: participant.IsReach,
		bingoClaimed: participant.HasBingo(),
		logger: cfg.Logger.WithFields(map[string]interface{}{
			"game_id":   game.ID.String(),
			"user_name": participant.UserName,
		}),
	}
	p.logger.Info("Joined game", map[string]interface{}{"resumed": !created})

	p.client = NewClient(ClientConfig{
		GameID:        game.ID,
		Store:         cfg.Store,
		Feed:          cfg.Feed,
		Bus:           cfg.Bus,
		RevealOptions: cfg.RevealOptions,
		Logger:        p.logger,
		OnChange:      p.onChange,
	})
	if err := p.client.Start(ctx); err != nil {
		p.client.Close()
		return nil, err
	}
	return p, nil
}

// CardChoices offers n distinct cards to choose from.
func (p *Player) CardChoices(n int) []models.BingoCard {
	return p.cfg.Generator.UniqueCards(n)
}

// ChooseCard assigns card to the participant. A participant keeps the first
// card it is assigned.
func (p *Player) ChooseCard(ctx context.Context, card models.BingoCard) error {
	p.mu.Lock()
	id := p.participant.ID
	p.mu.Unlock()

	updated, err := p.cfg.Store.AssignCard(ctx, id, card)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.participant = updated
	p.mu.Unlock()

	if game := p.client.Game(); game != nil {
		p.onChange(game)
	}
	return nil
}

func (p *Player) onChange(game *models.Game) {
	p.mu.Lock()
	participant := p.participant
	if participant.Card == nil {
		p.mu.Unlock()
		p.emit(game)
		return
	}
	eval := bingo.Evaluate(*participant.Card, game.DrawnNumbers)
	p.eval = eval

	claimReach := eval.Reach && !p.reachClaimed
	if claimReach {
		p.reachClaimed = true
	}
	claimBingo := eval.Bingo && !p.bingoClaimed
	if claimBingo {
		p.bingoClaimed = true
	}
	p.mu.Unlock()

	ctx := context.Background()
	if claimReach {
		p.claimReach(ctx, participant)
	}
	if claimBingo {
		p.claimBingo(ctx, participant)
	}
	p.emit(game)
}

func (p *Player) claimReach(ctx context.Context, participant *models.Participant) {
	updated, err := p.cfg.Store.ClaimReach(ctx, participant.ID)
	if err != nil {
		p.logger.Warn("Reach claim failed", map[string]interface{}{"error": err.Error()})
		return
	}
	p.mu.Lock()
	p.participant = updated
	p.mu.Unlock()
}

func (p *Player) claimBingo(ctx context.Context, participant *models.Participant) {
	rank, err := p.cfg.Store.ClaimBingo(ctx, participant.ID)
	if err != nil {
		p.logger.Warn("Bingo claim failed", map[string]interface{}{"error": err.Error()})
		if errors.Is(err, services.ErrRankConflict) {
			// Let the next change retry the claim.
			p.mu.Lock()
			p.bingoClaimed = false
			p.mu.Unlock()
		}
		return
	}
	p.logger.Info("Bingo", map[string]interface{}{"rank": rank})
	p.mu.Lock()
	updated := *p.participant
	updated.BingoRank = &rank
	p.participant = &updated
	p.mu.Unlock()
}

func (p *Player) emit(game *models.Game) {
	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(p.stateFor(game))
	}
}

func (p *Player) stateFor(game *models.Game) PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	participant := *p.participant
	return PlayerState{
		Game:        game,
		Participant: &participant,
		Evaluation:  p.eval,
	}
}

func (p *Player) State() PlayerState {
	return p.stateFor(p.client.Game())
}

// Leaderboard lists the game's participants, ranked finishers first.
func (p *Player) Leaderboard(ctx context.Context) ([]models.Participant, error) {
	list, err := p.cfg.Store.ListParticipants(ctx, p.client.GameID())
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	slices.SortStableFunc(list, models.ByLeaderboard)
	return list, nil
}

func (p *Player) Client() *Client {
	return p.client
}

func (p *Player) Close() {
	p.client.Close()
}
