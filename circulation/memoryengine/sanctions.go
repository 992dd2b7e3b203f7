package memoryengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// SanctionByID returns a sanction or ErrNotFound.
func (s *Store) SanctionByID(_ context.Context, id uuid.UUID) (circulation.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sanction, ok := s.sanctions[id]
	if !ok {
		return circulation.Sanction{}, circulation.ErrNotFound
	}

	return sanction, nil
}

// InsertSanction appends a sanction.
func (s *Store) InsertSanction(_ context.Context, sanction circulation.Sanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sanctions[sanction.ID] = sanction
	s.sanctionOrder = append(s.sanctionOrder, sanction.ID)

	return nil
}

// CondoneSanction transitions an active sanction to condoned, guarded by the
// stored status. Reports false for already-terminal sanctions.
func (s *Store) CondoneSanction(_ context.Context, id uuid.UUID, endsAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanction, ok := s.sanctions[id]
	if !ok {
		return false, circulation.ErrNotFound
	}
	if sanction.Status != circulation.SanctionActive {
		return false, nil
	}

	sanction.Status = circulation.SanctionCondoned
	sanction.EndsAt = endsAt
	s.sanctions[id] = sanction

	return true, nil
}

// ActiveSanctionsFor returns the user's sanctions with status active.
func (s *Store) ActiveSanctionsFor(_ context.Context, userID uuid.UUID) ([]circulation.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sanctions := make([]circulation.Sanction, 0)
	for _, id := range s.sanctionOrder {
		if sanction := s.sanctions[id]; sanction.UserID == userID && sanction.Status == circulation.SanctionActive {
			sanctions = append(sanctions, sanction)
		}
	}

	return sanctions, nil
}

// ExpireLapsedSanctions transitions active sanctions past their end date to
// expired. Indefinite sanctions never lapse. Re-running is a no-op for
// already-expired rows.
func (s *Store) ExpireLapsedSanctions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for id, sanction := range s.sanctions {
		if sanction.Status == circulation.SanctionActive && !sanction.EndsAt.IsZero() && sanction.EndsAt.Before(now) {
			sanction.Status = circulation.SanctionExpired
			s.sanctions[id] = sanction
			touched++
		}
	}

	return touched, nil
}

// SanctionsFor returns all sanctions ever recorded for the user, newest first.
func (s *Store) SanctionsFor(_ context.Context, userID uuid.UUID) ([]circulation.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sanctions := make([]circulation.Sanction, 0)
	for i := len(s.sanctionOrder) - 1; i >= 0; i-- {
		if sanction := s.sanctions[s.sanctionOrder[i]]; sanction.UserID == userID {
			sanctions = append(sanctions, sanction)
		}
	}

	return sanctions, nil
}
