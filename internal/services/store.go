package services

import "github.com/HammerMeetNail/bingohall/internal/logging"

// Store bundles the Postgres-backed services behind one value.
type Store struct {
	*GameService
	*ParticipantService
	*RankService
}

func NewStore(db DB, rankMaxAttempts int, logger *logging.Logger) *Store {
	return &Store{
		GameService:        NewGameService(db),
		ParticipantService: NewParticipantService(db),
		RankService:        NewRankService(db, rankMaxAttempts, logger),
	}
}
