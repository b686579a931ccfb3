package llm

import "github.com/agenticmail/agenticmail/pkg/models"

// EstimateTokens approximates the token count of a message list with a
// conservative ~4 characters per token heuristic. Providers that report
// real usage take precedence; this is the fallback and the input to the
// compaction threshold check.
func EstimateTokens(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Role) / 4
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				total += len(block.Text) / 4
			case models.BlockThinking:
				total += len(block.Text) / 4
			case models.BlockToolUse:
				total += len(block.Name)/4 + len(block.Input)/4
			case models.BlockToolResult:
				total += len(block.Content) / 4
			}
		}
		// Per-message framing overhead.
		total += 3
	}
	return total
}

// EstimateText approximates the token count of a single string.
func EstimateText(s string) int {
	return len(s) / 4
}
