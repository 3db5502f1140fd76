package executor

import (
	"context"
	"fmt"
	"strings"
)

// LocalExecutor is a deterministic offline executor used when no LLM
// credentials are configured. It follows the same event contract as the
// OpenAI executor: deltas, a gated write_resume call when a resume and job
// description are present, and token accounting.
type LocalExecutor struct {
	Model string
}

// NewLocalExecutor constructs a LocalExecutor.
func NewLocalExecutor(model string) *LocalExecutor {
	if model == "" {
		model = "local"
	}
	return &LocalExecutor{Model: model}
}

// Execute produces a heuristic rewrite without calling a provider.
func (e *LocalExecutor) Execute(ctx context.Context, rc RunContext) error {
	if rc.IsCancelled() {
		return ErrInterrupted
	}

	rc.Delta("Reviewing the resume against the job description.\n")

	resume := rc.ResumeText()
	jd := rc.JobDescription()

	if resume == "" || jd == "" || rc.ResumePath() == "" {
		rc.Delta("Upload a resume and submit a job description, then ask again for a tailored rewrite.\n")
		rc.AddUsage(e.Model, CountTokens(e.Model, rc.Message()), CountTokens(e.Model, "guidance"))
		return nil
	}

	if rc.IsCancelled() {
		return ErrInterrupted
	}

	rewritten := rewriteResume(resume, jd)
	approved, err := rc.ProposeTool("write_resume", map[string]any{"path": rc.ResumePath()})
	if err != nil {
		return err
	}
	if approved {
		if err := rc.WriteWorkspaceFile(rc.ResumePath(), []byte(rewritten)); err != nil {
			return err
		}
		rc.ToolResult("write_resume", map[string]any{
			"path":  rc.ResumePath(),
			"bytes": len(rewritten),
		})
		rc.Delta("Applied a tailored rewrite to the resume.\n")
	} else {
		rc.Delta("Left the resume unchanged.\n")
	}

	rc.AddUsage(e.Model,
		CountTokens(e.Model, rc.Message()+resume+jd),
		CountTokens(e.Model, rewritten))
	return nil
}

// rewriteResume prepends a summary aligned to the job description's most
// prominent terms. Deterministic on purpose.
func rewriteResume(resume, jd string) string {
	keywords := topKeywords(jd, 6)
	var sb strings.Builder
	sb.WriteString("## Summary\n")
	if len(keywords) > 0 {
		sb.WriteString(fmt.Sprintf("Experienced professional with a focus on %s.\n\n", strings.Join(keywords, ", ")))
	} else {
		sb.WriteString("Experienced professional aligned with the target role.\n\n")
	}
	sb.WriteString(resume)
	return sb.String()
}

func topKeywords(text string, n int) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(raw, ".,;:()[]{}\"'")
		if len(word) < 5 || stopWords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}
	out := make([]string, 0, n)
	for _, word := range order {
		if counts[word] >= 2 {
			out = append(out, word)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

var stopWords = map[string]bool{
	"about": true, "their": true, "there": true, "which": true,
	"would": true, "should": true, "strong": true, "years": true,
	"experience": true, "working": true,
}
