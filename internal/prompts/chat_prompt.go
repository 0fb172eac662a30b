package prompts

import (
	"fmt"
	"strings"

	"companion-chat/server/internal/interfaces"
)

// ChatTemplateName is the template used for companion replies
const ChatTemplateName = "chat_companion"

const (
	historyLineWindow = 12
	historyKeepLines  = 6
)

const chatCompanionTemplate = `You are {{persona_name}}, and you are talking with a user you know well.

## Who you are
{{instructions}}

## The last exchanges
{{recent_history}}

## Current topic
The user is talking about: {{topic}}
Stay on this topic: {{topic}}
{{relevant_documents}}
## Rules
- Reply as {{persona_name}} only, in first person, without prefixing your name.
- Answer the current topic directly before bringing up anything else.
- Never repeat a previous reply; use fresh wording and new ideas every turn.
{{repetition}}
{{persona_name}}:`

// ChatPromptInput is everything the companion prompt is built from
type ChatPromptInput struct {
	PersonaName       string
	Instructions      string
	RecentHistory     string
	Repetitive        bool
	Exemplar          string
	Topic             string
	RelevantDocuments []interfaces.RetrievedDocument
}

var defaultEngine = newDefaultEngine()

func newDefaultEngine() *TemplateEngine {
	e := NewTemplateEngine()
	_ = e.RegisterTemplate(&Template{
		Name:        ChatTemplateName,
		Description: "Companion reply grounded on recent history and retrieved memories",
		Content:     chatCompanionTemplate,
		Variables:   ParseTemplateVariables(chatCompanionTemplate),
	})
	return e
}

// LoadChatTemplate replaces the built-in companion template with a JSON template.
// An empty name is taken as chat_companion; any other name is rejected.
func LoadChatTemplate(jsonData string) error {
	tmpl, err := ParseTemplate(jsonData)
	if err != nil {
		return err
	}
	if tmpl.Name == "" {
		tmpl.Name = ChatTemplateName
	}
	if tmpl.Name != ChatTemplateName {
		return fmt.Errorf("chat template must be named %s, got %s", ChatTemplateName, tmpl.Name)
	}
	if strings.TrimSpace(tmpl.Content) == "" {
		return fmt.Errorf("chat template content is empty")
	}
	return defaultEngine.RegisterTemplate(tmpl)
}

// ExportChatTemplate returns the active companion template as JSON
func ExportChatTemplate() (string, error) {
	return defaultEngine.ExportTemplate(ChatTemplateName)
}

// BuildChatPrompt renders the companion instruction block. Output depends only on in.
func BuildChatPrompt(in ChatPromptInput) string {
	prompt, err := RenderChatPrompt(defaultEngine, in)
	if err != nil {
		// The built-in template is always registered
		panic(err)
	}
	return prompt
}

// RenderChatPrompt renders in through the chat template registered on engine
func RenderChatPrompt(engine *TemplateEngine, in ChatPromptInput) (string, error) {
	return engine.Render(ChatTemplateName, map[string]string{
		"persona_name":       in.PersonaName,
		"instructions":       strings.TrimSpace(in.Instructions),
		"recent_history":     orNone(strings.Join(LastExchanges(in.RecentHistory), "\n")),
		"topic":              strings.TrimSpace(in.Topic),
		"relevant_documents": documentsBlock(in.RelevantDocuments),
		"repetition":         repetitionBlock(in.Repetitive, in.Exemplar),
	})
}

// LastExchanges keeps the final three exchanges of a newline-joined history:
// the newest 12 non-empty lines, trimmed to the final 6.
func LastExchanges(history string) []string {
	var lines []string
	for _, line := range strings.Split(history, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > historyLineWindow {
		lines = lines[len(lines)-historyLineWindow:]
	}
	if len(lines) > historyKeepLines {
		lines = lines[len(lines)-historyKeepLines:]
	}
	return lines
}

func documentsBlock(docs []interfaces.RetrievedDocument) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Things you remember\n")
	for _, doc := range docs {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(doc.Content))
	}
	return b.String()
}

func repetitionBlock(repetitive bool, exemplar string) string {
	if !repetitive {
		return ""
	}
	return fmt.Sprintf("- Your last reply repeated an earlier one. Do not repeat or paraphrase this: %q\n", strings.TrimSpace(exemplar))
}

func orNone(s string) string {
	if s == "" {
		return "(no previous messages)"
	}
	return s
}
