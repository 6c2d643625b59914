package pkg

import (
	"encoding/json"
	"strings"
)

// UsageState acumula el consumo observado durante una respuesta: contadores
// de tokens y el texto generado. Los contadores se sobreescriben con cada
// reporte del proveedor (el último gana); el texto solo crece
type UsageState struct {
	InputTokens  int
	OutputTokens int
	text         strings.Builder
}

// NewUsageState crea un estado de uso vacío
func NewUsageState() *UsageState {
	return &UsageState{}
}

// SetTokens sobreescribe los contadores con el último reporte del proveedor
func (s *UsageState) SetTokens(input, output int) {
	s.InputTokens = input
	s.OutputTokens = output
}

// AppendText añade un fragmento de texto generado al acumulado
func (s *UsageState) AppendText(fragment string) {
	s.text.WriteString(fragment)
}

// Text devuelve el texto acumulado hasta el momento
func (s *UsageState) Text() string {
	return s.text.String()
}

// TotalTokens devuelve la suma de tokens de entrada y salida
func (s *UsageState) TotalTokens() int {
	return s.InputTokens + s.OutputTokens
}

// azureUsage es el bloque de uso que emite Azure OpenAI en chunks y en
// respuestas completas
type azureUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// empty indica que el bloque no trae ningún contador
func (u *azureUsage) empty() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// split reparte el bloque en tokens de entrada y salida. Cuando solo viene
// total_tokens, el total se atribuye a la salida
func (u *azureUsage) split() (input, output int) {
	input = u.PromptTokens
	output = u.CompletionTokens
	if input == 0 && output == 0 && u.TotalTokens > 0 {
		output = u.TotalTokens
	}
	return input, output
}

// ExtractAzureUsage hace una única pasada sobre un body completo de Azure y
// devuelve los contadores de tokens si el body trae un bloque de uso
func ExtractAzureUsage(body []byte) (input, output int, ok bool) {
	var doc struct {
		Usage *azureUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, 0, false
	}
	if doc.Usage == nil || doc.Usage.empty() {
		return 0, 0, false
	}
	input, output = doc.Usage.split()
	return input, output, true
}
