package translate

import (
	"fmt"
	"strings"
)

const DefaultSourceLanguage = "Somali"

// Instruction is the fixed system instruction sent to completion backends.
func Instruction(sourceLanguage string) string {
	if strings.TrimSpace(sourceLanguage) == "" {
		sourceLanguage = DefaultSourceLanguage
	}
	return fmt.Sprintf("Translate this %s text into English. Reply with the English translation only, no explanation.", sourceLanguage)
}

// Prompt combines the instruction and the text for backends that take a
// single prompt string.
func Prompt(sourceLanguage, text string) string {
	return Instruction(sourceLanguage) + "\n\n" + text
}
