package domain

type ModelID string

const (
	ModelGeminiFlash     ModelID = "gemini-2.5-flash"
	ModelGeminiPro       ModelID = "gemini-2.5-pro"
	ModelGeminiFlashLite ModelID = "gemini-2.5-flash-lite"

	DefaultModel = ModelGeminiFlash
)

type AIModel struct {
	ID              ModelID
	Name            string
	Description     string
	PromptPrice     float64 // per 1M tokens
	CompletionPrice float64 // per 1M tokens
	Capabilities    ModelCapabilities
}

type ModelCapabilities struct {
	Vision bool
	Audio  bool
	Files  bool
}

// Models is the closed set of selectable models, in picker order.
var Models = []AIModel{
	{
		ID:              ModelGeminiFlash,
		Name:            "Gemini 2.5 Flash",
		Description:     "Fast and versatile",
		PromptPrice:     0.30,
		CompletionPrice: 2.50,
		Capabilities:    ModelCapabilities{Vision: true, Audio: true, Files: true},
	},
	{
		ID:              ModelGeminiPro,
		Name:            "Gemini 2.5 Pro",
		Description:     "Complex reasoning and coding",
		PromptPrice:     1.25,
		CompletionPrice: 10.00,
		Capabilities:    ModelCapabilities{Vision: true, Audio: true, Files: true},
	},
	{
		ID:              ModelGeminiFlashLite,
		Name:            "Gemini 2.5 Flash-Lite",
		Description:     "Lowest latency",
		PromptPrice:     0.10,
		CompletionPrice: 0.40,
		Capabilities:    ModelCapabilities{Vision: true, Files: true},
	},
}

// LookupModel returns the model with the given ID from the closed set.
func LookupModel(id ModelID) (AIModel, error) {
	for _, m := range Models {
		if m.ID == id {
			return m, nil
		}
	}
	return AIModel{}, ErrUnknownModel
}

func (m AIModel) IsFree() bool {
	return m.PromptPrice == 0 && m.CompletionPrice == 0
}
