package service

import (
	"context"
	"errors"
	"time"

	"rsvp/internal/export"
	"rsvp/internal/feed"
	"rsvp/internal/interval"
	"rsvp/internal/metrics"
	"rsvp/internal/models"
	"rsvp/internal/store"
	"rsvp/internal/worker"

	"github.com/rs/zerolog"
)

// ReservationService is the operation surface of the core. It validates
// input, drives the store, and wakes the change feed after every
// committed mutation. Reads retry transient storage errors; mutations
// never do.
type ReservationService struct {
	store    *store.Store
	feed     *feed.Dispatcher
	exporter *export.Exporter
	retry    worker.RetryPolicy
	logger   *zerolog.Logger
}

func NewReservationService(st *store.Store, dispatcher *feed.Dispatcher, exporter *export.Exporter, logger *zerolog.Logger) *ReservationService {
	return &ReservationService{
		store:    st,
		feed:     dispatcher,
		exporter: exporter,
		retry:    worker.DefaultReadPolicy(),
		logger:   logger,
	}
}

func (s *ReservationService) Reserve(ctx context.Context, userID, resourceID string, w interval.Window, note string) (*models.Reservation, error) {
	r := &models.Reservation{
		UserID:     userID,
		ResourceID: resourceID,
		Start:      w.Start,
		End:        w.End,
		Note:       note,
	}

	err := s.store.Reserve(ctx, r)
	metrics.IncOperation("reserve", outcomeOf(err))
	if err != nil {
		if ce, ok := store.IsConflict(err); ok {
			s.logger.Info().
				Str("resource_id", resourceID).
				Int64("existing_id", ce.ExistingID).
				Time("start", w.Start).
				Time("end", w.End).
				Msg("reservation conflict")
		}
		return nil, err
	}

	s.feed.Notify(r.LastChangeSeq)
	s.logger.Info().
		Int64("id", r.ID).
		Str("user_id", userID).
		Str("resource_id", resourceID).
		Int64("seq", r.LastChangeSeq).
		Msg("reservation created")
	return r, nil
}

func (s *ReservationService) Confirm(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := s.store.Confirm(ctx, id)
	metrics.IncOperation("confirm", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	s.feed.Notify(r.LastChangeSeq)
	s.logger.Info().Int64("id", id).Int64("seq", r.LastChangeSeq).Msg("reservation confirmed")
	return r, nil
}

// UpdateNote does not touch the change feed: note-only edits are not
// logged, so there is nothing to announce.
func (s *ReservationService) UpdateNote(ctx context.Context, id int64, note string) (*models.Reservation, error) {
	r, err := s.store.UpdateNote(ctx, id, note)
	metrics.IncOperation("update_note", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int64("id", id).Msg("reservation note updated")
	return r, nil
}

func (s *ReservationService) Cancel(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := s.store.Cancel(ctx, id)
	metrics.IncOperation("cancel", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	s.feed.Notify(r.LastChangeSeq)
	s.logger.Info().Int64("id", id).Int64("seq", r.LastChangeSeq).Msg("reservation cancelled")
	return r, nil
}

func (s *ReservationService) Block(ctx context.Context, userID, resourceID string, w interval.Window, note string) (*models.Reservation, error) {
	r, err := s.store.Block(ctx, userID, resourceID, w, note)
	metrics.IncOperation("block", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	s.feed.Notify(r.LastChangeSeq)
	s.logger.Info().Int64("id", r.ID).Str("resource_id", resourceID).Msg("resource window blocked")
	return r, nil
}

func (s *ReservationService) Unblock(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := s.store.Unblock(ctx, id)
	metrics.IncOperation("unblock", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	s.feed.Notify(r.LastChangeSeq)
	s.logger.Info().Int64("id", id).Msg("resource window unblocked")
	return r, nil
}

func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	var r *models.Reservation
	err := s.retry.Do(ctx, func() error {
		var getErr error
		r, getErr = s.store.Get(ctx, id)
		if errors.Is(getErr, store.ErrNotFound) {
			// Definitive answer, not a storage failure.
			return nil
		}
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *ReservationService) Query(ctx context.Context, q store.ReservationQuery) ([]*models.Reservation, error) {
	var result []*models.Reservation
	err := s.retry.Do(ctx, func() error {
		var queryErr error
		result, queryErr = s.store.Query(ctx, q)
		return queryErr
	})
	return result, err
}

func (s *ReservationService) Filter(ctx context.Context, f store.ReservationFilter) ([]*models.Reservation, *store.Pager, error) {
	return s.store.Filter(ctx, f)
}

func (s *ReservationService) ChangesSince(ctx context.Context, seq int64, limit int) ([]models.Change, error) {
	var changes []models.Change
	err := s.retry.Do(ctx, func() error {
		var readErr error
		changes, readErr = s.store.ChangesSince(ctx, seq, limit)
		return readErr
	})
	return changes, err
}

func (s *ReservationService) Subscribe(ctx context.Context, opts feed.SubscribeOptions) (*feed.Subscription, error) {
	return s.feed.Subscribe(ctx, opts)
}

// Export writes the reservations matched by q into an xlsx workbook and
// returns its path.
func (s *ReservationService) Export(ctx context.Context, q store.ReservationQuery) (string, error) {
	reservations, err := s.Query(ctx, q)
	if err != nil {
		return "", err
	}

	path, err := s.exporter.Write(reservations, time.Now())
	if err != nil {
		return "", err
	}

	s.logger.Info().Str("path", path).Int("count", len(reservations)).Msg("reservations exported")
	return path, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, store.ErrInvalidWindow), errors.Is(err, store.ErrInvalidCursor), errors.Is(err, store.ErrInvalidStatus):
		return "invalid"
	case errors.Is(err, store.ErrLockTimeout):
		return "lock_timeout"
	default:
		if _, ok := store.IsConflict(err); ok {
			return "conflict"
		}
		return "error"
	}
}
