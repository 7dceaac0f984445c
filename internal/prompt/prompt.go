// Package prompt assembles retrieved evidence and conversation history
// into the context block handed to the language model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/askany/askany/internal/conversation"
	"github.com/askany/askany/internal/search"
	"github.com/askany/askany/internal/token"
)

// Context is an assembled prompt context ready for rendering.
type Context struct {
	DocumentExcerpts []string
	HistoryExcerpts  []string
	Instruction      string
}

const (
	answerInstruction = "Answer the question using only the document excerpts above. " +
		"Cite the documents you used. If the excerpts do not contain the answer, say so plainly."

	insufficientInstruction = "No relevant documents were found for this question. " +
		"Say that the knowledge base does not cover it and suggest rephrasing the question."
)

// Assembler builds prompt contexts under a token budget.
type Assembler struct {
	excerptChars int
	historyPairs int
}

// NewAssembler returns an Assembler keeping the last historyPairs
// user/assistant exchanges; zero or negative falls back to 3. Excerpts are
// capped at 500 characters.
func NewAssembler(historyPairs int) *Assembler {
	if historyPairs <= 0 {
		historyPairs = 3
	}
	return &Assembler{excerptChars: 500, historyPairs: historyPairs}
}

// Assemble selects document excerpts in score order until budgetTokens is
// exhausted, then attaches recent history. The first excerpt is always
// included even when it alone exceeds the budget, so a non-empty retrieval
// never produces an evidence-free prompt.
func (a *Assembler) Assemble(query string, retrieved []search.RetrievedChunk, history []conversation.Turn, budgetTokens int) Context {
	ctx := Context{Instruction: answerInstruction}

	used := 0
	for i, ch := range retrieved {
		excerpt := a.excerpt(ch)
		cost := token.Estimate(excerpt)
		if i > 0 && used+cost > budgetTokens {
			break
		}
		ctx.DocumentExcerpts = append(ctx.DocumentExcerpts, excerpt)
		used += cost
	}

	if len(ctx.DocumentExcerpts) == 0 {
		ctx.Instruction = insufficientInstruction
	}

	ctx.HistoryExcerpts = a.recentHistory(history)
	return ctx
}

// excerpt renders one retrieved chunk with its source, truncated to the
// configured size.
func (a *Assembler) excerpt(ch search.RetrievedChunk) string {
	text := ch.Text
	runes := []rune(text)
	if len(runes) > a.excerptChars {
		text = string(runes[:a.excerptChars])
	}
	source := ch.Metadata["title"]
	if source == "" {
		source = ch.Location
	}
	if source == "" {
		return text
	}
	return fmt.Sprintf("[%s] %s", source, text)
}

// recentHistory formats the last historyPairs exchanges oldest first.
func (a *Assembler) recentHistory(history []conversation.Turn) []string {
	limit := a.historyPairs * 2
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case conversation.RoleUser:
			lines = append(lines, "User: "+turn.Content)
		case conversation.RoleAssistant:
			lines = append(lines, "Assistant: "+turn.Content)
		}
	}
	return lines
}

// Render produces the final prompt text for query from an assembled
// context.
func (c Context) Render(query string) string {
	var sb strings.Builder

	if len(c.DocumentExcerpts) > 0 {
		sb.WriteString("Document excerpts:\n")
		for i, excerpt := range c.DocumentExcerpts {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, excerpt)
		}
		sb.WriteString("\n")
	}
	if len(c.HistoryExcerpts) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, line := range c.HistoryExcerpts {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(c.Instruction)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}
