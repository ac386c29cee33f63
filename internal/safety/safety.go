// Package safety implements the operator kill switch, the market-data
// circuit breaker, and the fail-closed gate consulted before every
// broker-affecting action.
package safety

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// minReasonLength is the minimum free-text reason accepted for kill-switch
// changes.
const minReasonLength = 10

// disengageConfirmation must be supplied verbatim to disengage.
const disengageConfirmation = "CONFIRM"

var (
	ErrReasonTooShort      = fmt.Errorf("reason must be at least %d characters", minReasonLength)
	ErrOperatorRequired    = errors.New("operator is required")
	ErrConfirmationMissing = errors.New("disengage requires confirmation set to " + disengageConfirmation)
)

// Service manages kill-switch state changes and audit reads.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// DB exposes the backing store for gate construction.
func (s *Service) DB() *Database {
	return s.db
}

// Seed ensures the safety state row exists.
func (s *Service) Seed() error {
	return s.db.Seed()
}

// Engage turns the kill switch on. Engaging an already-engaged switch is a
// no-op, but the call is still audit-logged.
func (s *Service) Engage(operator, reason string) (*SafetyState, error) {
	if err := validateChange(operator, reason); err != nil {
		return nil, err
	}

	state, err := s.db.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to read safety state: %w", err)
	}

	if state.KillSwitchState == KillSwitchEngaged {
		if err := s.db.AppendAudit(ActionEngageNoop, operator, reason); err != nil {
			return nil, err
		}
		return state, nil
	}

	if err := s.db.SetKillSwitch(KillSwitchEngaged, operator, reason); err != nil {
		return nil, fmt.Errorf("failed to engage kill switch: %w", err)
	}
	if err := s.db.AppendAudit(ActionEngage, operator, reason); err != nil {
		return nil, err
	}

	log.Warn().
		Str("component", "safety").
		Str("operator", operator).
		Str("reason", reason).
		Msg("kill switch engaged")

	return s.db.GetState()
}

// Disengage turns the kill switch off. It requires the explicit
// confirmation token on top of operator and reason; role restrictions are
// enforced at the route middleware. Disengaging an already-disengaged
// switch is an audited no-op.
func (s *Service) Disengage(operator, reason, confirmation string) (*SafetyState, error) {
	if err := validateChange(operator, reason); err != nil {
		return nil, err
	}
	if confirmation != disengageConfirmation {
		return nil, ErrConfirmationMissing
	}

	state, err := s.db.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to read safety state: %w", err)
	}

	if state.KillSwitchState == KillSwitchDisengaged {
		if err := s.db.AppendAudit(ActionDisengageNoop, operator, reason); err != nil {
			return nil, err
		}
		return state, nil
	}

	if err := s.db.SetKillSwitch(KillSwitchDisengaged, operator, reason); err != nil {
		return nil, fmt.Errorf("failed to disengage kill switch: %w", err)
	}
	if err := s.db.AppendAudit(ActionDisengage, operator, reason); err != nil {
		return nil, err
	}

	log.Warn().
		Str("component", "safety").
		Str("operator", operator).
		Str("reason", reason).
		Msg("kill switch disengaged")

	return s.db.GetState()
}

// Status returns the current safety state.
func (s *Service) Status() (*SafetyState, error) {
	return s.db.GetState()
}

// Audit returns recent audit events, newest first.
func (s *Service) Audit(limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.db.ListAudit(limit)
}

// RecordHeartbeat stores a circuit-breaker heartbeat from the market-data
// pipeline.
func (s *Service) RecordHeartbeat(state string) error {
	switch state {
	case BreakerOpen, BreakerClosed:
	default:
		return fmt.Errorf("unknown breaker state %q", state)
	}
	return s.db.SetBreaker(state)
}

func validateChange(operator, reason string) error {
	if strings.TrimSpace(operator) == "" {
		return ErrOperatorRequired
	}
	if len(strings.TrimSpace(reason)) < minReasonLength {
		return ErrReasonTooShort
	}
	return nil
}
