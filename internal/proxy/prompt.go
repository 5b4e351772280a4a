package proxy

import "strings"

// MaxTaskTextRunes bounds the task text forwarded upstream.
const MaxTaskTextRunes = 4000

var systemPrompt = strings.Join([]string{
	"You are an AI Task Analyst that outputs STRICT JSON only.",
	"Follow the schema:",
	"{",
	`  "title": string,`,
	`  "assumptions": string[],`,
	`  "steps": [`,
	`    { "title": string, "why": string, "how": string, "filesToTouch": string[] }`,
	"  ],",
	`  "risks": string[],`,
	`  "testPlan": string[]`,
	"}",
	"",
	"Rules:",
	"- Do not include code execution, shell commands, or secrets.",
	"- No fake/mock data for dev or prod.",
	"- Prefer simple solutions and avoid duplication.",
	"- Consider environments: dev, test, prod.",
	"- Keep steps clear and actionable.",
	"- Output JSON only, no backticks, no markdown.",
}, "\n")

func SystemPrompt() string {
	return systemPrompt
}

func UserPrompt(taskText string, regenerate bool) string {
	if regenerate {
		return "Better version: " + taskText
	}
	return "Task: " + taskText
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
