package service

import (
	"sync"
	"time"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

// Notifier decides whether a fresh evaluation warrants a new warning
// event. It keeps the previously emitted (level, reason set) per
// subsystem, which is the only history the diagnostic core retains:
// repeated identical evaluations on every ingestion tick stay silent,
// every state transition produces at least one event, and the return to
// NORMAL produces exactly one cleared event.
type Notifier struct {
	mu   sync.Mutex
	last map[model.SubsystemKind]emitted
}

type emitted struct {
	level model.AlertLevel
	codes map[model.ReasonCode]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{last: make(map[model.SubsystemKind]emitted)}
}

// OnEvaluation returns the event to publish for this evaluation, or nil
// when the previous emission still covers it.
func (n *Notifier) OnEvaluation(kind model.SubsystemKind, eval Evaluation, now time.Time) *model.WarningEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, ok := n.last[kind]
	if !ok {
		prev = emitted{level: model.LevelNormal}
	}

	cur := emitted{level: eval.Level, codes: codeSet(eval.Reasons)}

	if eval.Level == model.LevelNormal {
		if prev.level == model.LevelNormal {
			return nil
		}
		n.last[kind] = cur
		return n.event(kind, model.LevelNormal, model.WarningReason{Code: model.ReasonCleared, Message: "Cleared"}, now)
	}

	if eval.Level <= prev.level && sameCodes(cur.codes, prev.codes) {
		return nil
	}
	n.last[kind] = cur

	dominant := model.WarningReason{Code: model.ReasonCleared}
	if len(eval.Reasons) > 0 {
		dominant = eval.Reasons[0]
	}
	return n.event(kind, eval.Level, dominant, now)
}

// LastLevel reports the most recently emitted level for a subsystem.
func (n *Notifier) LastLevel(kind model.SubsystemKind) model.AlertLevel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last[kind].level
}

func (n *Notifier) event(kind model.SubsystemKind, level model.AlertLevel, reason model.WarningReason, now time.Time) *model.WarningEvent {
	return &model.WarningEvent{
		Service:   ServiceIDFor(kind),
		Instance:  InstanceID,
		Event:     WarningEventID,
		Level:     level,
		Code:      reason.Code,
		Message:   reason.Message,
		Timestamp: now,
	}
}

func codeSet(reasons []model.WarningReason) map[model.ReasonCode]struct{} {
	if len(reasons) == 0 {
		return nil
	}
	s := make(map[model.ReasonCode]struct{}, len(reasons))
	for _, r := range reasons {
		s[r.Code] = struct{}{}
	}
	return s
}

func sameCodes(a, b map[model.ReasonCode]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for c := range a {
		if _, ok := b[c]; !ok {
			return false
		}
	}
	return true
}
