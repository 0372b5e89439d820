package services

import (
	"context"
	"errors"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"

	"go.uber.org/zap"
)

// AccessService decides who may listen to and who may manage an event.
type AccessService struct {
	events      ports.EventRepository
	memberships ports.MembershipRepository
	tokens      ports.TokenVerifier
	logger      *zap.SugaredLogger
}

func NewAccessService(
	events ports.EventRepository,
	memberships ports.MembershipRepository,
	tokens ports.TokenVerifier,
	logger *zap.SugaredLogger,
) *AccessService {
	return &AccessService{
		events:      events,
		memberships: memberships,
		tokens:      tokens,
		logger:      logger,
	}
}

// Authorize reports whether caller may listen to eventID. Rules are checked
// in order: anonymous events admit everyone, then a verified access token
// for this event, then organizers, admins and enrolled participants.
func (s *AccessService) Authorize(ctx context.Context, eventID domain.EventID, slug string, caller domain.Identity, token string) bool {
	event, err := s.events.LookupEvent(ctx, eventID, slug)
	if err != nil {
		if !errors.Is(err, domain.ErrEventNotFound) {
			s.logger.Errorw("Event lookup failed", "event_id", eventID, "error", err)
		}
		s.deny(eventID, caller, "unknown event")
		return false
	}

	if event.AllowAnonymous {
		return true
	}

	if s.tokens != nil && s.tokens.VerifyAccessToken(token, eventID).IsVerified() {
		return true
	}

	if caller.Authenticated {
		if s.CanManage(ctx, eventID, caller) {
			return true
		}

		enrolled, err := s.memberships.IsEnrolledParticipant(ctx, caller, eventID)
		if err != nil {
			s.logger.Errorw("Participant check failed",
				"event_id", eventID,
				"user_id", caller.UserID,
				"error", err,
			)
		} else if enrolled {
			return true
		}
	}

	s.deny(eventID, caller, "no matching grant")
	return false
}

// CanManage reports whether caller is an organizer of eventID or an admin.
func (s *AccessService) CanManage(ctx context.Context, eventID domain.EventID, caller domain.Identity) bool {
	if !caller.Authenticated {
		return false
	}
	ok, err := s.memberships.IsOrganizerOrAdmin(ctx, caller, eventID)
	if err != nil {
		s.logger.Errorw("Organizer check failed",
			"event_id", eventID,
			"user_id", caller.UserID,
			"error", err,
		)
		return false
	}
	return ok
}

func (s *AccessService) deny(eventID domain.EventID, caller domain.Identity, reason string) {
	s.logger.Warnw("Access denied",
		"event_id", eventID,
		"user_id", caller.UserID,
		"username", caller.DisplayName(),
		"authenticated", caller.Authenticated,
		"reason", reason,
	)
}
