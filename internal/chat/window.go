package chat

import (
	"fmt"

	"github.com/nika/server/internal/model"
)

const preambleFormat = "You are %s. You are a voice assistant. Talk to me as a friend. My name is %s"

// Turn is one entry of the context sent to the completer
type Turn struct {
	Role    string
	Content string
}

// BuildWindow assembles the completion context for prompt: the system
// preamble, then the latest prior exchange when both sides of it exist, then
// the prompt itself. At most one prior exchange is ever included.
func BuildWindow(assistant, userName string, lastUser, lastAssistant *model.Message, prompt string) []Turn {
	turns := make([]Turn, 0, 4)
	turns = append(turns, Turn{Role: model.RoleSystem, Content: fmt.Sprintf(preambleFormat, assistant, userName)})
	if lastUser != nil && lastAssistant != nil {
		turns = append(turns,
			Turn{Role: model.RoleUser, Content: lastUser.Content},
			Turn{Role: model.RoleAssistant, Content: lastAssistant.Content},
		)
	}
	return append(turns, Turn{Role: model.RoleUser, Content: prompt})
}
