package gameday

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CreateGamedayTimeRequest represents a weekly slot to add to a bucket
type CreateGamedayTimeRequest struct {
	BucketID  uuid.UUID
	Weekday   Weekday
	TimeOfDay time.Duration
}

// CreateGamedayTime stores a weekly slot and schedules its first gameday.
func (a *App) CreateGamedayTime(ctx context.Context, req CreateGamedayTimeRequest) (*GamedayTime, *Gameday, error) {
	if !req.Weekday.Valid() {
		return nil, nil, ErrInvalidWeekday
	}
	if req.TimeOfDay < 0 || req.TimeOfDay >= 24*time.Hour || req.TimeOfDay%time.Minute != 0 {
		return nil, nil, ErrInvalidTimeOfDay
	}
	b, err := a.bucket(ctx, req.BucketID)
	if err != nil {
		return nil, nil, err
	}

	gt := &GamedayTime{
		ID:        uuid.New(),
		GuildID:   b.GuildID,
		TeamID:    b.TeamID,
		BucketID:  b.ID,
		Weekday:   req.Weekday,
		TimeOfDay: req.TimeOfDay,
	}

	unlock := a.locks.Lock(gt.ID)
	defer unlock()

	if err := a.repo.CreateGamedayTime(ctx, gt); err != nil {
		return nil, nil, err
	}
	g, err := a.CreateGameday(ctx, CreateGamedayRequest{
		BucketID:      b.ID,
		StartsAt:      gt.NextOccurrence(a.clock.Now(), a.loc),
		GamedayTimeID: uuid.NullUUID{UUID: gt.ID, Valid: true},
	})
	if err != nil {
		if derr := a.repo.DeleteGamedayTime(ctx, gt.ID); derr != nil {
			log.Error().Err(derr).Str("gameday_time_id", gt.ID.String()).Msg("failed to remove gameday time after scheduling failed")
		}
		return nil, nil, err
	}

	log.Info().
		Str("gameday_time_id", gt.ID.String()).
		Str("weekday", gt.Weekday.String()).
		Dur("time_of_day", gt.TimeOfDay).
		Time("first_gameday", g.StartsAt).
		Msg("weekly gameday time created")
	return gt, g, nil
}

// DeleteGamedayTime removes a weekly slot and cancels the gamedays it has
// scheduled that have not kicked off. It returns how many were cancelled.
func (a *App) DeleteGamedayTime(ctx context.Context, id uuid.UUID) (int, error) {
	unlock := a.locks.Lock(id)
	upcoming, err := a.repo.UpcomingForTime(ctx, id)
	if err == nil {
		err = a.repo.DeleteGamedayTime(ctx, id)
	}
	unlock()
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, gid := range upcoming {
		if err := a.CancelGameday(ctx, gid); err != nil {
			if !errors.Is(err, ErrGamedayNotFound) {
				log.Error().Err(err).Str("gameday_id", gid.String()).Msg("failed to cancel gameday of removed time")
			}
			continue
		}
		cancelled++
	}

	log.Info().Str("gameday_time_id", id.String()).Int("cancelled", cancelled).Msg("weekly gameday time removed")
	return cancelled, nil
}

// scheduleNext creates the slot's next gameday after the given instant, or
// after now if that is later. It does nothing when the slot is gone or
// already has a gameday waiting to kick off.
func (a *App) scheduleNext(ctx context.Context, timeID uuid.UUID, after time.Time) (*Gameday, error) {
	unlock := a.locks.Lock(timeID)
	defer unlock()

	gt, err := a.repo.GetGamedayTime(ctx, timeID)
	if errors.Is(err, ErrGamedayTimeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	upcoming, err := a.repo.UpcomingForTime(ctx, timeID)
	if err != nil {
		return nil, err
	}
	if len(upcoming) > 0 {
		log.Debug().Str("gameday_time_id", timeID.String()).Msg("next weekly gameday already scheduled")
		return nil, nil
	}

	if now := a.clock.Now(); now.After(after) {
		after = now
	}
	return a.CreateGameday(ctx, CreateGamedayRequest{
		BucketID:      gt.BucketID,
		StartsAt:      gt.NextOccurrence(after, a.loc),
		GamedayTimeID: uuid.NullUUID{UUID: timeID, Valid: true},
	})
}
