package dto

// PushEvent is the inbound webhook payload for a source-control push.
type PushEvent struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	CompareURL string     `json:"compare_url"`
	Commits    []Commit   `json:"commits"`
	Repository Repository `json:"repository"`
	Pusher     *Author    `json:"pusher,omitempty"`
}

type Commit struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Message string `json:"message"`
	Author  Author `json:"author"`
}

type Author struct {
	Username string `json:"username"`
}

type Repository struct {
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Name          string `json:"name"`
	Owner         Author `json:"owner"`
}

// ConverterCallbackRequest is the payload a converter posts when it
// finishes, after uploading its output.
type ConverterCallbackRequest struct {
	Identifier string   `json:"identifier"`
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Info       []string `json:"info"`
	Warnings   []string `json:"warnings"`
	Errors     []string `json:"errors"`
	ResultsKey string   `json:"s3_results_key"`
}

// LinterCallbackRequest is the payload a linter posts when it finishes.
type LinterCallbackRequest struct {
	Identifier string   `json:"identifier"`
	Success    bool     `json:"success"`
	Info       []string `json:"info"`
	Warnings   []string `json:"warnings"`
	Errors     []string `json:"errors"`
	ResultsKey string   `json:"s3_results_key"`
}

// ListJobsRequest carries job list filters and cursor pagination.
type ListJobsRequest struct {
	UserName string `form:"user_name"`
	RepoName string `form:"repo_name"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string   `json:"job_id"`
	Identifier    string   `json:"identifier"`
	UserName      string   `json:"user_name"`
	RepoName      string   `json:"repo_name"`
	CommitID      string   `json:"commit_id"`
	ResourceType  string   `json:"resource_type"`
	InputFormat   string   `json:"input_format"`
	OutputFormat  string   `json:"output_format"`
	ConvertModule string   `json:"convert_module,omitempty"`
	LintModule    string   `json:"lint_module,omitempty"`
	State         string   `json:"state"`
	Status        string   `json:"status"`
	Success       bool     `json:"success"`
	Message       string   `json:"message,omitempty"`
	Log           []string `json:"log,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	Errors        []string `json:"errors,omitempty"`
	CreatedAt     string   `json:"created_at"`
	StartedAt     string   `json:"started_at,omitempty"`
	EndedAt       string   `json:"ended_at,omitempty"`
}
