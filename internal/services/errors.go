package services

import "errors"

var (
	ErrGameNotFound        = errors.New("game not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrGameNotActive       = errors.New("game is not active")
	ErrInvalidTransition   = errors.New("game cannot move to that status")
	ErrAlreadyDrawn        = errors.New("number already drawn")
	ErrInvalidNumber       = errors.New("number out of range")
	ErrNotOrganizer        = errors.New("organizer key does not match")
	ErrCardAlreadyAssigned = errors.New("participant already has a card")
	ErrInvalidCard         = errors.New("invalid bingo card")
	ErrNoCard              = errors.New("participant has no card")
	ErrInvalidClaim        = errors.New("claim does not match the drawn numbers")
	ErrRankConflict        = errors.New("could not allocate a finishing rank")
	ErrInvalidUserName     = errors.New("user name must be 1 to 32 characters")
)
