package main

import (
	"context"

	"github.com/go-logr/logr"
	usertypes "github.com/goliatone/go-users/pkg/types"
)

// logSink writes go-users activity records to the log.
type logSink struct {
	log logr.Logger
}

var _ usertypes.ActivitySink = logSink{}

func (s logSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.log.Info("activity",
		"verb", record.Verb,
		"object_type", record.ObjectType,
		"object_id", record.ObjectID,
		"channel", record.Channel,
		"actor_id", record.ActorID.String(),
		"data", record.Data,
		"occurred_at", record.OccurredAt,
	)
	return nil
}
