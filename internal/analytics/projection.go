package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
	"classtrack/internal/metrics"
)

// Projection statuses, in message-policy priority order.
const (
	ProjectionNoClasses   = "no_classes"
	ProjectionUnreachable = "unreachable"
	ProjectionAlreadyMet  = "already_met"
	ProjectionNoFuture    = "no_future_classes"
	ProjectionAttendPlan  = "attend_plan"
)

// ProjectionInput is the request for a classes-needed projection.
type ProjectionInput struct {
	TargetPercent  float64
	TargetDate     time.Time
	Subject        string // empty = all subjects
	ManualAttended *int   // both manual fields set: bypass history
	ManualHeld     *int
}

// Projection is the forward-looking result: how many of the remaining held
// classes must be attended to reach the target percentage.
type Projection struct {
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	Subject           string    `json:"subject_name,omitempty"`
	TargetPercent     float64   `json:"target_percent"`
	TargetDate        time.Time `json:"target_date"`
	CurrentAttended   int       `json:"current_attended"`
	CurrentHeld       int       `json:"current_held"`
	CurrentPercentage *float64  `json:"current_percentage"`
	FutureHeld        int       `json:"future_held"`
	TotalPotential    int       `json:"total_potential"`
	NeededToAttend    int       `json:"needed_to_attend"`
	CanSkip           int       `json:"can_skip"`
	MaxAchievable     *float64  `json:"max_achievable,omitempty"` // set when the target is unreachable
}

// Project computes the projection for the calling user. Manual attended/held
// both supplied bypass history; otherwise the current state comes from the
// same counting pass StreamStats uses, over [range start, yesterday].
func (e *Engine) Project(ctx context.Context, userID, streamID string, in ProjectionInput) (Projection, error) {
	if err := e.access.RequireMember(ctx, userID, streamID); err != nil {
		return Projection{}, err
	}
	if in.TargetPercent <= 0 || in.TargetPercent > 100 {
		return Projection{}, apperrors.NewValidation("target percentage out of range",
			apperrors.FieldError{Field: "target_percent", Error: "must be in (0, 100]"})
	}
	today := dates.Today()
	targetDate := dates.Day(in.TargetDate)
	if targetDate.Before(today) {
		return Projection{}, apperrors.NewValidation("target date is in the past",
			apperrors.FieldError{Field: "target_date", Error: "must be today or later"})
	}

	currentAttended, currentHeld, err := e.currentState(ctx, userID, streamID, in)
	if err != nil {
		return Projection{}, err
	}

	future, err := e.countRange(ctx, streamID, today, targetDate, in.Subject)
	if err != nil {
		return Projection{}, err
	}
	var futureScheduled, futureCancelled, futureReplacements int
	for _, n := range future.scheduled {
		futureScheduled += n
	}
	for _, n := range future.cancelled {
		futureCancelled += n
	}
	for _, n := range future.replacements {
		futureReplacements += n
	}
	futureHeld := heldCount(futureScheduled, futureCancelled, futureReplacements)

	totalPotential := currentHeld + futureHeld
	rawNeeded := int(math.Ceil(in.TargetPercent/100*float64(totalPotential) - float64(currentAttended)))
	needed := rawNeeded
	if needed < 0 {
		needed = 0
	}
	if needed > futureHeld {
		needed = futureHeld
	}

	p := Projection{
		Subject:           in.Subject,
		TargetPercent:     in.TargetPercent,
		TargetDate:        targetDate,
		CurrentAttended:   currentAttended,
		CurrentHeld:       currentHeld,
		CurrentPercentage: percentage(currentAttended, currentHeld),
		FutureHeld:        futureHeld,
		TotalPotential:    totalPotential,
		NeededToAttend:    needed,
		CanSkip:           futureHeld - needed,
	}

	switch {
	case totalPotential <= 0:
		p.Status = ProjectionNoClasses
		p.NeededToAttend = 0
		p.CanSkip = 0
		p.Message = "no classes held or scheduled in this period"
	case rawNeeded > futureHeld:
		p.Status = ProjectionUnreachable
		maxAch := round2(float64(currentAttended+futureHeld) / float64(totalPotential) * 100)
		p.MaxAchievable = &maxAch
		p.CanSkip = 0
		p.Message = fmt.Sprintf("target %.2f%% is unreachable even attending every remaining class; maximum achievable is %.2f%%", in.TargetPercent, maxAch)
	case needed <= 0 && p.CurrentPercentage != nil && *p.CurrentPercentage >= in.TargetPercent:
		p.Status = ProjectionAlreadyMet
		p.NeededToAttend = 0
		p.CanSkip = futureHeld
		p.Message = fmt.Sprintf("target already met; you may skip all %d remaining classes", futureHeld)
	case futureHeld == 0:
		p.Status = ProjectionNoFuture
		p.NeededToAttend = 0
		p.CanSkip = 0
		p.Message = "no further classes before the target date"
	default:
		p.Status = ProjectionAttendPlan
		p.Message = fmt.Sprintf("attend %d of the next %d held classes; you may skip %d", p.NeededToAttend, futureHeld, p.CanSkip)
	}
	metrics.ProjectionsComputed.Inc()
	return p, nil
}

// currentState resolves (attended, held) up to yesterday, or takes the
// caller-supplied manual figures verbatim. A stream with no history at all
// degrades to (0, 0).
func (e *Engine) currentState(ctx context.Context, userID, streamID string, in ProjectionInput) (int, int, error) {
	if in.ManualAttended != nil && in.ManualHeld != nil {
		if *in.ManualAttended < 0 || *in.ManualHeld < 0 || *in.ManualAttended > *in.ManualHeld {
			return 0, 0, apperrors.NewValidation("manual attended must be within [0, manual held]",
				apperrors.FieldError{Field: "manual_attended", Error: "must satisfy 0 <= attended <= held"})
		}
		return *in.ManualAttended, *in.ManualHeld, nil
	}

	yesterday := dates.Today().AddDate(0, 0, -1)
	start, _, err := e.resolveRange(ctx, streamID, nil, &yesterday)
	if err != nil {
		return 0, 0, err
	}
	if yesterday.Before(start) {
		return 0, 0, nil
	}
	rc, err := e.countRange(ctx, streamID, start, yesterday, in.Subject)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	var scheduled, cancelled, replacements int
	for _, n := range rc.scheduled {
		scheduled += n
	}
	for _, n := range rc.cancelled {
		cancelled += n
	}
	for _, n := range rc.replacements {
		replacements += n
	}
	held := heldCount(scheduled, cancelled, replacements)

	attended, err := e.attendedCounts(ctx, userID, streamID, start, yesterday, in.Subject, rc.cancelledSlots)
	if err != nil {
		return 0, 0, err
	}
	var total int
	for _, n := range attended {
		total += n
	}
	return total, held, nil
}
