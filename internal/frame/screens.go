// Package frame renders the poll-driven UI state machine as plain screen
// descriptors. The server keeps no poll state: every screen is derived
// from the store on each request, and an incomplete job re-arms the client
// with the same poll URL.
package frame

import (
	"time"

	"github.com/hexlume/castquest/internal/domain"
)

const (
	StateNoJob     = "no-job"
	StatePending   = "pending"
	StateValidated = "validated"
	StateRejected  = "rejected"
	StateSuccess   = "success"
	StateFailed    = "failed"
	StateExpired   = "expired"
)

const (
	ActionReset = "reset"
	ActionPoll  = "poll"
	ActionMint  = "mint"
)

type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

type Screen struct {
	State   string   `json:"state"`
	Text    string   `json:"text"`
	Outcome string   `json:"outcome,omitempty"`
	Buttons []Button `json:"buttons"`
}

func ErrorScreen(text string) Screen {
	if text == "" {
		text = "Something went wrong"
	}
	return Screen{
		State:   StateFailed,
		Text:    text,
		Buttons: []Button{{Label: "Reset", Action: ActionReset}},
	}
}

func InfoScreen(text string, buttons ...Button) Screen {
	return Screen{
		State:   StateNoJob,
		Text:    text,
		Buttons: buttons,
	}
}

// RenderJob maps a resolved job state to the next screen. submittedAt
// comes from the poll URL itself, so a pending job older than ttl renders
// the give-up screen instead of re-arming the client forever.
func RenderJob(state domain.JobState, pollURL, mintURL string, submittedAt, now time.Time, ttl time.Duration) Screen {
	switch state.Kind {
	case domain.StateSucceeded:
		return Screen{
			State:   StateSuccess,
			Text:    "Quest minted",
			Outcome: state.Outcome,
			Buttons: []Button{{Label: "Reset", Action: ActionReset}},
		}
	case domain.StateFailed:
		screen := ErrorScreen(state.Reason)
		return screen
	case domain.StateValidated:
		return Screen{
			State: StateValidated,
			Text:  "Quest validated. Mint your attestation to claim the reward.",
			Buttons: []Button{
				{Label: "Mint", Action: ActionMint, Target: mintURL},
				{Label: "Reset", Action: ActionReset},
			},
		}
	case domain.StateRejected:
		return Screen{
			State:   StateRejected,
			Text:    "Quest was not validated",
			Buttons: []Button{{Label: "Reset", Action: ActionReset}},
		}
	default:
		if ttl > 0 && !submittedAt.IsZero() && now.Sub(submittedAt) > ttl {
			return Screen{
				State:   StateExpired,
				Text:    "This is taking longer than expected. Try again later.",
				Buttons: []Button{{Label: "Reset", Action: ActionReset}},
			}
		}
		return Screen{
			State: StatePending,
			Text:  "Still processing. Check back in a moment.",
			Buttons: []Button{
				{Label: "Continue", Action: ActionPoll, Target: pollURL},
			},
		}
	}
}
