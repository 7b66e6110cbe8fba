package server

// HTTPError is the unified error envelope returned by handlers.
type HTTPError struct {
	Error string `json:"error"`
}

// IDResponse returns a created resource ID.
type IDResponse struct {
	ID string `json:"id"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// PlanCreateRequest asks the planner for a fresh outline.
type PlanCreateRequest struct {
	Topic        string `json:"topic"`
	Organization string `json:"organization,omitempty"`
	Context      string `json:"context,omitempty"`
}

// PlanReviseRequest carries user feedback for an outline revision.
type PlanReviseRequest struct {
	Feedback string `json:"feedback"`
}

// RunCreateRequest starts execution of an approved plan.
type RunCreateRequest struct {
	PlanID string `json:"plan_id"`
}

// ScheduleCreateRequest registers a recurring report.
type ScheduleCreateRequest struct {
	Topic string `json:"topic"`
	Cron  string `json:"cron"`
}

// MarkdownResponse wraps a rendered markdown report.
type MarkdownResponse struct {
	Markdown string `json:"markdown"`
}
