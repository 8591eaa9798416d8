package workflow

import (
	"log/slog"

	"leadpipe/internal/queue"
	"leadpipe/internal/stage"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Intent      stage.Handler
	Qualify     stage.Handler
	Categorize  stage.Handler
	Enrich      stage.Handler
	Materialize stage.Handler
}

func (s StageSet) byStage() map[queue.Stage]stage.Handler {
	return map[queue.Stage]stage.Handler{
		queue.StageIntent:      s.Intent,
		queue.StageQualify:     s.Qualify,
		queue.StageCategorize:  s.Categorize,
		queue.StageEnrich:      s.Enrich,
		queue.StageMaterialize: s.Materialize,
	}
}

type laneState struct {
	stage   queue.Stage
	handler stage.Handler
	logger  *slog.Logger
}
