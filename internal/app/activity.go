package app

import (
	"context"

	"quarterdeck/api/internal/store"
	"quarterdeck/api/internal/util"
)

// recordActivity appends a captain's log entry. Logging is best effort: a
// failed write is reported at warn level and never rolls back or fails the
// operation that triggered it.
func (s *Service) recordActivity(ctx context.Context, bandID, actorID, action, actionPast, entityType string, entityID, entityName *string, extra map[string]any) {
	entry := store.ActivityEntry{
		ID:         util.NewID("log"),
		BandID:     bandID,
		ActorID:    actorID,
		ActorType:  "member",
		Action:     action,
		ActionPast: actionPast,
		EntityType: entityType,
		EntityID:   entityID,
		EntityName: entityName,
		Context:    extra,
	}
	if err := s.store.InsertActivity(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("band", bandID).
			Str("action", action).
			Msg("captains log write failed")
	}
}

func strPtr(v string) *string {
	return &v
}
