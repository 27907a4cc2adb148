package agent

import (
	"strings"

	"filegate/gateway/internal/mention"
	"filegate/gateway/internal/project"
)

const mandatoryActions = `
MANDATORY ACTIONS:
- Use the Read tool to actually open every referenced file (do not just say you'll read).
- Produce the final artifact.
- Use the Write tool to save under the current write dir shown above.
- After writing, print the exact relative path as @<path> so the UI can detect it.
`

// SystemPrompt pins the agent to the project layout: where it may read,
// where Write lands, and how to treat paths that repeat the write dir.
func SystemPrompt(m *project.Manifest) string {
	var b strings.Builder
	b.WriteString("You are a careful coding assistant working inside a team project.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Project root: " + m.Root + "\n")
	b.WriteString("- Read-only dirs: " + strings.Join(m.ReadDirs, ", ") + "\n")
	b.WriteString("- Current write dir (CWD for Write): " + m.WriteDir + "\n")
	b.WriteString("- Always show concrete relative paths you touched.\n")
	b.WriteString("- Prefer Read/Write tools with explicit relative paths.\n")
	b.WriteString("- IMPORTANT: The Write tool's working directory is " + m.WriteDir + ". ")
	b.WriteString("If you see a path starting with '" + m.WriteDir + "/' (e.g., '@" + m.WriteDir + "/foo.md'), ")
	b.WriteString("STRIP that leading folder and write to the relative path instead (write 'foo.md'). ")
	b.WriteString("Do NOT create nested '<write_dir>/<write_dir>/' paths.\n")
	b.WriteString("- For 'append' requests: Read the existing file, merge by appending your new section, ")
	b.WriteString("then Write the full updated content back to the SAME filename.\n")
	return b.String()
}

// UserPrompt appends the alias table and the mandatory actions to the
// caller's prompt.
func UserPrompt(m *project.Manifest, prompt string) string {
	return prompt + mention.AliasHint(m) + mandatoryActions
}
