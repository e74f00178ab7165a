package conversation

import "strings"

// DefaultPreamble — системная часть промпта в формате Llama 2 chat.
const DefaultPreamble = `<s>[INST] <<SYS>>
You are a helpful, respectful, and honest assistant. Always answer as helpfully as possible, while being safe. Your answers should not include any harmful, unethical, racist, sexist, toxic, dangerous, or illegal content. Please ensure that your responses are socially unbiased and positive in nature.
If a question does not make any sense, or is not factually coherent, explain why instead of answering something not correct. If you don't know the answer to a question, please don't share false information. You are a code generator. You must answer only in markdown code snippets. Provide explanation for the code. Use code comments for explanations.
<</SYS>>

Conversation History:`

// closingMarker закрывает инструкцию.
const closingMarker = "[/INST]"

const (
	questionPrefix = "\nQuestion: "
	answerPrefix   = "\nAnswer: "
)

// BuildPrompt собирает промпт: преамбула, затем все ходы по порядку, затем закрывающий маркер.
// Пустая преамбула заменяется на DefaultPreamble.
func BuildPrompt(preamble string, turns []Turn) string {
	if preamble == "" {
		preamble = DefaultPreamble
	}

	var b strings.Builder
	b.WriteString(preamble)
	for _, t := range turns {
		if t.Question != "" {
			b.WriteString(questionPrefix)
			b.WriteString(t.Question)
		}
		if t.Answer != "" {
			b.WriteString(answerPrefix)
			b.WriteString(t.Answer)
		}
	}
	b.WriteString(closingMarker)
	return b.String()
}

// Window оставляет последние maxTurns записей истории. maxTurns <= 0 — без ограничения.
// Вопрос и ответ — отдельные записи. Обрезанное окно начинается с вопроса:
// ответы, чей вопрос остался за границей окна, отбрасываются.
func Window(turns []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		return turns
	}
	window := turns[len(turns)-maxTurns:]
	for len(window) > 0 && window[0].Question == "" {
		window = window[1:]
	}
	return window
}
