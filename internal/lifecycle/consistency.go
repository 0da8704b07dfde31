package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// CheckConsistency returns an error wrapping domain.ErrInconsistentSetup for
// every structural invariant s violates.
func CheckConsistency(s domain.Setup) error {
	var errs []error

	if (s.Outcome == nil) != (s.ClosedAt == nil) {
		errs = append(errs, errors.New("outcome and closed_at must be set together"))
	}
	if s.StopHitAt != nil && s.TargetHitAt != nil {
		errs = append(errs, errors.New("stop and target cannot both be hit"))
	}
	if s.Status.Terminal() && s.Outcome == nil {
		errs = append(errs, fmt.Errorf("terminal status %s without outcome", s.Status))
	}
	if s.Status.Open() && s.Outcome != nil {
		errs = append(errs, fmt.Errorf("open status %s with outcome %s", s.Status, *s.Outcome))
	}
	if s.Status == domain.SetupEntryHit && s.EntryHitAt == nil {
		errs = append(errs, errors.New("entry_hit without entry_hit_at"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: setup %s: %w", domain.ErrInconsistentSetup, s.ID, errors.Join(errs...))
}

// Repair returns a copy of s with structural violations corrected, plus a
// description of each fix. An outcome on an open setup without closed_at is
// cleared. Otherwise a missing outcome or closed_at is derived from the
// evidence on the row.
func Repair(s domain.Setup) (domain.Setup, []string) {
	var fixes []string

	if s.StopHitAt != nil && s.TargetHitAt != nil {
		if s.TargetHitAt.Before(*s.StopHitAt) {
			s.StopHitAt = nil
			fixes = append(fixes, "dropped stop_hit_at recorded after target_hit_at")
		} else {
			s.TargetHitAt = nil
			fixes = append(fixes, "dropped target_hit_at, stop takes priority")
		}
	}

	if s.Outcome != nil && s.ClosedAt == nil && s.Status.Open() {
		s.Outcome = nil
		fixes = append(fixes, "cleared outcome on open setup without closed_at")
	}

	if s.Outcome != nil && s.Status.Open() {
		switch {
		case *s.Outcome == domain.OutcomeLoss && s.StopHitAt != nil:
			s.Status = domain.SetupStopHit
		case *s.Outcome == domain.OutcomeWin && s.TargetHitAt != nil:
			s.Status = domain.SetupTPHit
		default:
			s.Status = domain.SetupExpired
		}
		fixes = append(fixes, "promoted status to "+string(s.Status)+" to match outcome")
	}

	if s.Outcome == nil && s.Status.Terminal() {
		o := outcomeFor(s.Status)
		s.Outcome = &o
		fixes = append(fixes, "derived outcome "+string(o)+" from status")
	}

	if s.Outcome != nil && s.ClosedAt == nil {
		at := closedAtFor(s)
		s.ClosedAt = &at
		fixes = append(fixes, "filled closed_at from hit timestamps")
	}

	if s.Outcome == nil && s.ClosedAt != nil {
		s.ClosedAt = nil
		fixes = append(fixes, "cleared closed_at on open setup")
	}

	if s.Status == domain.SetupEntryHit && s.EntryHitAt == nil {
		at := s.CreatedAt
		if s.LastCheckedAt != nil {
			at = *s.LastCheckedAt
		}
		s.EntryHitAt = &at
		fixes = append(fixes, "filled entry_hit_at")
	}

	return s, fixes
}

func outcomeFor(status domain.SetupStatus) domain.Outcome {
	switch status {
	case domain.SetupStopHit:
		return domain.OutcomeLoss
	case domain.SetupTPHit:
		return domain.OutcomeWin
	default:
		return domain.OutcomeMissed
	}
}

func closedAtFor(s domain.Setup) time.Time {
	switch {
	case s.StopHitAt != nil:
		return *s.StopHitAt
	case s.TargetHitAt != nil:
		return *s.TargetHitAt
	case s.Status == domain.SetupExpired:
		return s.ValidUntil
	case s.LastCheckedAt != nil:
		return *s.LastCheckedAt
	default:
		return s.CreatedAt
	}
}

// Verify checks s and either fails (strict) or repairs it. The returned slice
// lists any fixes applied.
func Verify(s domain.Setup, strict bool) (domain.Setup, []string, error) {
	err := CheckConsistency(s)
	if err == nil {
		return s, nil, nil
	}
	if strict {
		return s, nil, err
	}
	fixed, fixes := Repair(s)
	if err := CheckConsistency(fixed); err != nil {
		return s, fixes, err
	}
	return fixed, fixes, nil
}
