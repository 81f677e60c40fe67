package doctor

// Status constants for doctor checks
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Category constants for grouping doctor checks
const (
	CategoryStore     = "Firestore"
	CategoryData      = "Data Integrity"
	CategoryEvoAI     = "Evo AI"
	CategoryEvolution = "Evolution API"
	CategoryCRM       = "CRM API"
	CategoryQueue     = "RabbitMQ"
)

// CategoryOrder defines the display order for categories
var CategoryOrder = []string{
	CategoryStore,
	CategoryData,
	CategoryEvoAI,
	CategoryEvolution,
	CategoryCRM,
	CategoryQueue,
}

// Check represents a single diagnostic check result
type Check struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // StatusOK, StatusWarning, StatusError or StatusSkipped
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	Fix      string `json:"fix,omitempty"`
}

// Result is the full doctor report.
type Result struct {
	Checks     []Check `json:"checks"`
	OverallOK  bool    `json:"overall_ok"`
	CLIVersion string  `json:"cli_version,omitempty"`
	Timestamp  string  `json:"timestamp"`
	DurationMs int64   `json:"duration_ms"`
}

// Counts tallies checks by status.
func (r *Result) Counts() map[string]int {
	out := map[string]int{}
	for _, c := range r.Checks {
		out[c.Status]++
	}
	return out
}

// Find returns the first check with the given name.
func (r *Result) Find(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func skipped(category, name, fix string) Check {
	return Check{Name: name, Category: category, Status: StatusSkipped, Message: "not configured", Fix: fix}
}
