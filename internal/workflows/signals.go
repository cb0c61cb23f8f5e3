package workflows

// SignalPlanFeedback delivers the human review decision for a proposed plan.
// The workflow blocks after proposing a plan until this signal arrives.
const SignalPlanFeedback = "plan-feedback-v1"

// PlanFeedbackSignal is the reviewer's decision. Feedback, when set, always
// wins: the plan is revised around it regardless of Approved. Approved true
// with empty feedback releases the run; Approved false with empty feedback is
// a bare rejection and forces a fresh plan.
type PlanFeedbackSignal struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// rejectionFeedback stands in for reviewer feedback on a bare rejection so
// the planner does not just reproduce the rejected plan.
const rejectionFeedback = "The previous plan was rejected without specific feedback. Propose a substantially different structure."
