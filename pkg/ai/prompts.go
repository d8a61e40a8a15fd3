package ai

import (
	"fmt"
	"strings"
)

const RelevanceSystemPrompt = `You rate how well hardware and tool products fit a customer's request.
For every candidate return its id and a relevance between 0 and 1, where 1 means the
product is exactly what the request needs and 0 means it is unrelated. Rate every
candidate exactly once. Do not invent ids. Keep each reason under 20 words.`

// RelevanceCandidate is one product shown to the generative scorer.
type RelevanceCandidate struct {
	ID          string
	Name        string
	Description string
}

// RelevanceScore is one entry of the generative scorer's answer.
type RelevanceScore struct {
	ID        string  `json:"id" jsonschema:"description=Candidate id exactly as given"`
	Relevance float64 `json:"relevance" jsonschema:"minimum=0,maximum=1"`
	Reason    string  `json:"reason"`
}

type RelevanceResponse struct {
	Scores []RelevanceScore `json:"scores"`
}

// RelevancePrompt renders the user prompt for generative scoring.
// Descriptions should already be truncated by the caller.
func RelevancePrompt(query string, candidates []RelevanceCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nCandidates:\n", strings.TrimSpace(query))
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id: %s\n  name: %s\n", c.ID, c.Name)
		if c.Description != "" {
			fmt.Fprintf(&b, "  description: %s\n", c.Description)
		}
	}
	return b.String()
}
