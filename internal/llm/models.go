package llm

// AvailableModels содержит модели, с которыми проверялся шаблон промпта.
// Шаблон рассчитан на формат Llama 2 chat ([INST], <<SYS>>).
var AvailableModels = []ModelInfo{
	{
		ID:          "meta-llama/llama-2-70b-chat",
		Name:        "Llama 2 70B Chat",
		Description: "Модель по умолчанию",
	},
	{
		ID:          "meta-llama/llama-2-13b-chat",
		Name:        "Llama 2 13B Chat",
		Description: "Быстрее, но слабее в коде",
	},
	{
		ID:          "codellama/codellama-34b-instruct",
		Name:        "Code Llama 34B Instruct",
		Description: "Специализирована на генерации кода",
	},
}

// ModelInfo описывает информацию о модели.
type ModelInfo struct {
	ID          string // Идентификатор модели для API
	Name        string // Короткое название для отображения
	Description string
}

// GetModelByID возвращает информацию о модели по её ID.
// Если модель не найдена, возвращает nil.
func GetModelByID(modelID string) *ModelInfo {
	for _, m := range AvailableModels {
		if m.ID == modelID {
			return &m
		}
	}
	return nil
}

// IsKnownModel сообщает, есть ли modelID в каталоге.
// Неизвестная модель не ошибка: сервис может обслуживать и другие.
func IsKnownModel(modelID string) bool {
	return GetModelByID(modelID) != nil
}

// GetModelName возвращает короткое название модели по её ID.
// Если модель не найдена, возвращает сам ID.
func GetModelName(modelID string) string {
	if info := GetModelByID(modelID); info != nil {
		return info.Name
	}
	return modelID
}
