package service

import "time"

// Step is one scripted progress step. The delay is cosmetic pacing only.
type Step struct {
	Name      string
	Label     string
	Rationale string
	Delay     time.Duration
}

// DefaultScript is the fixed plan, search, read sequence shown before the answer.
var DefaultScript = []Step{
	{
		Name:      "plan",
		Label:     "Creating a plan",
		Rationale: "The user wants to know about the latest news. I should search for current events and headlines from reliable sources.",
		Delay:     800 * time.Millisecond,
	},
	{
		Name:      "search",
		Label:     "Searching web",
		Rationale: "I will search for the top news stories from reliable sources to gather comprehensive information.",
		Delay:     1500 * time.Millisecond,
	},
	{
		Name:      "read",
		Label:     "Reading content",
		Rationale: "Reading through the search results to extract key information about world events and current headlines.",
		Delay:     time.Second,
	},
}
