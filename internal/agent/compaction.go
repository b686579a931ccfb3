package agent

import (
	"fmt"
	"strings"

	"github.com/agenticmail/agenticmail/internal/llm"
	"github.com/agenticmail/agenticmail/pkg/models"
)

const (
	// compactionKeepRecent is how many non-system messages survive a
	// compaction untouched.
	compactionKeepRecent = 10

	// compactionPerMessageChars caps each source message's digest line.
	compactionPerMessageChars = 200

	// compactionDigestBytes caps the whole digest message.
	compactionDigestBytes = 4 * 1024

	// compactionThreshold is the fraction of the context window at
	// which the loop compacts before calling the model.
	compactionThreshold = 0.8

	// compactionMaxBlockBytes caps a single text or tool_result body
	// when folding alone cannot shrink the transcript.
	compactionMaxBlockBytes = 8 * 1024

	digestEllipsis = "..."
)

// NeedsCompaction reports whether the transcript's estimated token
// footprint has crossed the compaction threshold.
func NeedsCompaction(messages []*models.Message, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return float64(llm.EstimateTokens(messages)) >= compactionThreshold*float64(contextWindow)
}

// Compact folds older conversation into a single synthetic system
// message. System messages always survive; the last compactionKeepRecent
// non-system messages survive verbatim. Deterministic: no model call,
// same input produces the same digest.
//
// Returns the compacted transcript and whether anything changed.
func Compact(messages []*models.Message) ([]*models.Message, bool) {
	var system, rest []*models.Message
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) <= compactionKeepRecent {
		return messages, false
	}

	older := rest[:len(rest)-compactionKeepRecent]
	recent := rest[len(rest)-compactionKeepRecent:]

	sessionID := ""
	if len(messages) > 0 {
		sessionID = messages[0].SessionID
	}
	digest := newSessionMessage(sessionID, models.RoleSystem, buildDigest(older))

	compacted := make([]*models.Message, 0, len(system)+1+len(recent))
	compacted = append(compacted, system...)
	compacted = append(compacted, digest)
	compacted = append(compacted, recent...)
	return compacted, true
}

// TruncateOversized clips text, thinking, and tool_result bodies larger
// than compactionMaxBlockBytes. It is the fallback for transcripts that
// are over threshold with too few messages for Compact to fold. Clipped
// messages are copies; the input is left intact.
func TruncateOversized(messages []*models.Message) ([]*models.Message, bool) {
	changed := false
	out := make([]*models.Message, len(messages))
	for i, msg := range messages {
		clipped := msg
		for bi, blk := range msg.Content {
			var body string
			switch blk.Type {
			case models.BlockText, models.BlockThinking:
				body = blk.Text
			case models.BlockToolResult:
				body = blk.Content
			default:
				continue
			}
			if len(body) <= compactionMaxBlockBytes {
				continue
			}
			if clipped == msg {
				clipped = msg.Clone()
			}
			body = body[:compactionMaxBlockBytes] + digestEllipsis
			if blk.Type == models.BlockToolResult {
				clipped.Content[bi].Content = body
			} else {
				clipped.Content[bi].Text = body
			}
			changed = true
		}
		out[i] = clipped
	}
	return out, changed
}

// buildDigest renders one line per source message: the role and the
// first compactionPerMessageChars characters of its text content.
func buildDigest(older []*models.Message) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Conversation summary (%d earlier messages):\n", len(older)))
	for _, msg := range older {
		line := digestLine(msg)
		if b.Len()+len(line)+1 > compactionDigestBytes-len(digestEllipsis) {
			b.WriteString(digestEllipsis)
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func digestLine(msg *models.Message) string {
	text := msg.Text()
	if text == "" {
		// Tool traffic has no text blocks; note its shape instead.
		if uses := msg.ToolUses(); len(uses) > 0 {
			names := make([]string, 0, len(uses))
			for _, u := range uses {
				names = append(names, u.Name)
			}
			text = "(tool calls: " + strings.Join(names, ", ") + ")"
		} else if results := msg.ToolResults(); len(results) > 0 {
			text = fmt.Sprintf("(%d tool results)", len(results))
		}
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > compactionPerMessageChars {
		text = text[:compactionPerMessageChars] + digestEllipsis
	}
	return fmt.Sprintf("[%s]: %s", msg.Role, text)
}
