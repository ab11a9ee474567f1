package agent

import (
	"context"
	"fmt"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

const reviewerSystemPromptTemplate = `You are reviewing a prior %s that failed: %s

If it needs adjustment, call review_answer with need_adjust=true and a replacement %s. Otherwise call review_answer with need_adjust=false.`

// ReviewResult is the outcome of one reviewer pass: whether the prior
// artifact needed adjustment and, if so, its replacement. Escalate only
// applies to a solver-level review and
// drives the REVIEW_SOLVER -> REVIEW_SUMMARY transition: the
// generated code was fine, but the path constraint it solved is itself
// wrong, so there is no adjustment to make within the solver.
type ReviewResult struct {
	NeedAdjust  bool
	Replacement string
	Escalate    bool
}

// ReviewerSession runs a single-turn review_answer session over one prior
// artifact. Every review variant (REVIEW_SOLVER[_EXECUTE],
// REVIEW_SUMMARY[_SOLVE/_EXECUTE]) shares this same shape: one correction
// chance, then the orchestrator finalizes the case either way.
type ReviewerSession struct {
	Client llm.ToolCallingClient
	Usage  toolproto.UsageSink
}

func NewReviewerSession(client llm.ToolCallingClient, usage toolproto.UsageSink) *ReviewerSession {
	return &ReviewerSession{Client: client, Usage: usage}
}

// Review runs the review for one artifact kind ("execute_program function",
// "target branch", "path constraint") given context describing why the
// prior attempt fell short.
func (r *ReviewerSession) Review(ctx context.Context, artifactKind, priorArtifact, failureContext string) (ReviewResult, error) {
	system := fmt.Sprintf(reviewerSystemPromptTemplate, artifactKind, failureContext, artifactKind)

	session := &toolproto.Session{
		Client: r.Client,
		System: system,
		Tools:  []toolproto.Schema{toolproto.ThinkSchema, toolproto.ReviewAnswerSchema},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink: thinkHandler,
			toolproto.ToolReviewAnswer: func(ctx context.Context, input map[string]any) (string, error) {
				if need, _ := toBool(input, "need_adjust"); need {
					if _, ok := toString(input, "replacement"); !ok {
						return "", fmt.Errorf("replacement is required when need_adjust is true")
					}
				}
				return "Review recorded.", nil
			},
		},
		Terminal: map[string]bool{toolproto.ToolReviewAnswer: true},
		Usage:    r.Usage,
	}

	prior := fmt.Sprintf("<prior_artifact>\n%s\n</prior_artifact>", priorArtifact)
	outcome, err := session.Run(ctx, prior)
	if err != nil {
		return ReviewResult{}, err
	}

	need, _ := toBool(outcome.TerminalArgs, "need_adjust")
	replacement, _ := toString(outcome.TerminalArgs, "replacement")
	escalate, _ := toBool(outcome.TerminalArgs, "escalate")
	return ReviewResult{NeedAdjust: need, Replacement: replacement, Escalate: escalate}, nil
}
