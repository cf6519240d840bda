package policy

import "github.com/segyhp/dunning-engine/internal/domain"

// Action is the outcome of consulting the escalation ladder.
type Action struct {
	SendReminder bool
	Escalate     bool
	MarkTerminal bool
	Message      string
}

// None reports whether the ladder asked for nothing.
func (a Action) None() bool {
	return !a.SendReminder && !a.Escalate && !a.MarkTerminal
}

// Rung is one threshold of a ladder. It matches when daysOverdue >= MinDaysOverdue and,
// if MaxRemindersSent is positive, remindersSent < MaxRemindersSent.
type Rung struct {
	MinDaysOverdue   int
	MaxRemindersSent int
	Action           Action
}

func (r Rung) matches(daysOverdue, remindersSent int) bool {
	if daysOverdue < r.MinDaysOverdue {
		return false
	}
	return r.MaxRemindersSent <= 0 || remindersSent < r.MaxRemindersSent
}

// Ladder is an ordered list of rungs; the first match wins.
type Ladder struct {
	rungs []Rung
}

func NewLadder(rungs ...Rung) Ladder {
	return Ladder{rungs: append([]Rung(nil), rungs...)}
}

// Decide maps days overdue and reminders already sent onto an action. The third argument is
// the plan's max retry attempts; ladders are time and reminder based and ignore it. The ladder
// never resets remindersSent: each rung fires once because its bound on remindersSent strictly
// increases down the ladder.
func (l Ladder) Decide(daysOverdue, remindersSent, _ int) Action {
	for _, r := range l.rungs {
		if r.matches(daysOverdue, remindersSent) {
			return r.Action
		}
	}
	return Action{}
}

// With returns a copy with rung inserted before the first rung with a lower day threshold.
// Product policy uses this to fill brackets the built-in ladders leave open.
func (l Ladder) With(rung Rung) Ladder {
	rungs := make([]Rung, 0, len(l.rungs)+1)
	inserted := false
	for _, r := range l.rungs {
		if !inserted && rung.MinDaysOverdue > r.MinDaysOverdue {
			rungs = append(rungs, rung)
			inserted = true
		}
		rungs = append(rungs, r)
	}
	if !inserted {
		rungs = append(rungs, rung)
	}
	return Ladder{rungs: rungs}
}

func (l Ladder) Rungs() []Rung {
	return append([]Rung(nil), l.rungs...)
}

const (
	InstallmentSevereMessage = "Your installment payment is severely overdue. Please contact us immediately."
	InstallmentFinalMessage  = "FINAL NOTICE: Your installment payment is seriously overdue. Immediate action required."
	InstallmentUrgentMessage = "URGENT: Your installment payment is significantly overdue. Please make payment immediately."
	InstallmentSecondMessage = "REMINDER: Your installment payment is overdue. Please make payment as soon as possible."
	InstallmentFirstMessage  = "Your installment payment is now overdue. Please make payment at your earliest convenience."

	SubscriptionSuspendedMessage = "Your subscription payment is severely overdue. Your subscription has been suspended."
	SubscriptionFinalMessage     = "FINAL NOTICE: Your subscription payment is seriously overdue. Your service may be suspended."
	SubscriptionUrgentMessage    = "URGENT: Your subscription payment is significantly overdue. Please make payment immediately."
)

// InstallmentLadder: 90+ default, 60-89 final notice, 30-59 urgent, 15-29 second, 3-14 first.
func InstallmentLadder() Ladder {
	return NewLadder(
		Rung{MinDaysOverdue: 90, Action: Action{Escalate: true, MarkTerminal: true, Message: InstallmentSevereMessage}},
		Rung{MinDaysOverdue: 60, MaxRemindersSent: 4, Action: Action{SendReminder: true, Escalate: true, Message: InstallmentFinalMessage}},
		Rung{MinDaysOverdue: 30, MaxRemindersSent: 3, Action: Action{SendReminder: true, Message: InstallmentUrgentMessage}},
		Rung{MinDaysOverdue: 15, MaxRemindersSent: 2, Action: Action{SendReminder: true, Message: InstallmentSecondMessage}},
		Rung{MinDaysOverdue: 3, MaxRemindersSent: 1, Action: Action{SendReminder: true, Message: InstallmentFirstMessage}},
	)
}

// SubscriptionLadder: 30+ unpaid, 21-29 final notice, 14-20 urgent. The 7-13 day bracket has
// no rung until product policy defines one (see Ladder.With).
func SubscriptionLadder() Ladder {
	return NewLadder(
		Rung{MinDaysOverdue: 30, Action: Action{MarkTerminal: true, Message: SubscriptionSuspendedMessage}},
		Rung{MinDaysOverdue: 21, MaxRemindersSent: 4, Action: Action{SendReminder: true, Message: SubscriptionFinalMessage}},
		Rung{MinDaysOverdue: 14, MaxRemindersSent: 3, Action: Action{SendReminder: true, Message: SubscriptionUrgentMessage}},
	)
}

// LadderFor picks the built-in ladder for a plan kind.
func LadderFor(kind domain.PlanKind) Ladder {
	if kind == domain.PlanKindSubscription {
		return SubscriptionLadder()
	}
	return InstallmentLadder()
}
