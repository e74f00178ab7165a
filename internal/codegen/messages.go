package codegen

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Message описывает сообщение чата от клиента. Используется только content последнего.
type Message struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

const messagesSchema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "properties": {
      "role":    {"type": "string"},
      "content": {"type": "string"}
    },
    "required": ["content"]
  }
}`

var messagesValidator = mustSchema(messagesSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile messages schema: %v", err))
	}
	return schema
}

// ParseMessages достаёт поле messages из тела запроса.
//
// Тело, которое вообще не является JSON, возвращается как обычная ошибка разбора.
// Отсутствующее или "ложное" поле (null, false, 0, "", []) даёт ErrMessagesRequired,
// а массив неподходящей формы ErrInvalidMessages.
func ParseMessages(body []byte) ([]Message, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse request body: %w", err)
	}

	obj, _ := payload.(map[string]any)
	raw, present := obj["messages"]
	if !present || isFalsy(raw) {
		return nil, ErrMessagesRequired
	}

	result, err := messagesValidator.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate messages: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessages, result.Errors()[0])
	}

	var envelope struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return envelope.Messages, nil
}

func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case float64:
		return val == 0
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	}
	return false
}
