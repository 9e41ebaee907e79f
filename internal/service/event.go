package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"reflex-arena/internal/model"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/repository"
)

// EventUpdate holds the fields an admin may change. Nil fields are kept.
type EventUpdate struct {
	StartsAt     *time.Time
	EndsAt       *time.Time
	PrizePoolWLD *string
}

// EventService manages the event schedule.
type EventService struct {
	runner *db.TxRunner
	events *repository.EventRepository
}

// NewEventService creates an EventService.
func NewEventService(runner *db.TxRunner, events *repository.EventRepository) *EventService {
	return &EventService{runner: runner, events: events}
}

// CreateEvent schedules a new event.
func (s *EventService) CreateEvent(ctx context.Context, id string, startsAt, endsAt time.Time, prizePool string) (*model.Event, error) {
	if err := validateEventID(id); err != nil {
		return nil, err
	}
	if !endsAt.After(startsAt) {
		return nil, ErrInvalidWindow
	}
	pool, err := parsePool(prizePool)
	if err != nil {
		return nil, err
	}

	event, err := s.events.Create(ctx, id, startsAt, endsAt, pool)
	if err != nil {
		if errors.Is(err, repository.ErrEventExists) {
			return nil, ErrEventExists
		}
		return nil, err
	}

	log.Info().
		Str("event_id", id).
		Time("starts_at", startsAt).
		Time("ends_at", endsAt).
		Str("prize_pool", pool.String()).
		Msg("Event created")
	return event, nil
}

// GetEvent returns an event.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if err := validateEventID(id); err != nil {
		return nil, err
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

// UpdateEvent changes the schedule or prize pool of an event that is not
// frozen.
func (s *EventService) UpdateEvent(ctx context.Context, id string, upd EventUpdate) (*model.Event, error) {
	if err := validateEventID(id); err != nil {
		return nil, err
	}

	var out *model.Event
	err := s.runner.Run(ctx, func(tx pgx.Tx) error {
		events := s.events.WithTx(tx)
		event, err := events.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrEventNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		if event.Frozen {
			return ErrEventFrozen
		}

		startsAt, endsAt, pool := event.StartsAt, event.EndsAt, event.PrizePoolWLD
		if upd.StartsAt != nil {
			startsAt = *upd.StartsAt
		}
		if upd.EndsAt != nil {
			endsAt = *upd.EndsAt
		}
		if upd.PrizePoolWLD != nil {
			if pool, err = parsePool(*upd.PrizePoolWLD); err != nil {
				return err
			}
		}
		if !endsAt.After(startsAt) {
			return ErrInvalidWindow
		}

		out, err = events.Update(ctx, id, startsAt, endsAt, pool)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("event_id", id).Time("ends_at", out.EndsAt).Str("prize_pool", out.PrizePoolWLD.String()).Msg("Event updated")
	return out, nil
}

func parsePool(s string) (decimal.Decimal, error) {
	pool, err := decimal.NewFromString(s)
	if err != nil || pool.IsNegative() {
		return decimal.Zero, ErrInvalidPool
	}
	return pool, nil
}
