package model

import (
	"context"
	"fmt"

	"github.com/vbonduro/medlens/internal/domain"
	"github.com/vbonduro/medlens/internal/media"
)

// FallbackReply is what the model is told to answer for unusable images.
const FallbackReply = "Recheck your medicine and upload."

// OffTopicReply is what the model is told to answer for unrelated questions.
const OffTopicReply = "This question is not relevant to the medicine. Please ask about the provided medicine."

// Client is a hosted multimodal model. Implementations keep no conversation
// memory; every call is a single turn.
type Client interface {
	Name() string
	Identify(ctx context.Context, img media.Payload, prompt string) (string, error)
	Chat(ctx context.Context, prompt string) (string, error)
}

// IdentifyPrompt is the shared identification prompt used by all adapters.
func IdentifyPrompt(lang domain.Language) string {
	return fmt.Sprintf(`You are an expert in identifying medicines and pills. You will be provided with images of medicines or pills.
Your task is to:
1. Identify the name of the medicine (typically written in larger letters, often at the top or center of the packaging).
2. Describe the medical conditions and problems the medicine cures and all the relevant information about the particular medicine.

Reply strictly in %s.

If the image is unclear, incomplete, or does not contain a recognizable medicine, respond with:
"%s"

Avoid providing any irrelevant or generic responses, and do not suggest consulting a doctor or give unnecessary disclaimers.`,
		lang.Name, FallbackReply)
}

// ChatPrompt embeds the identification result and the question so that a
// stateless Chat call has the context it needs.
func ChatPrompt(result, question string, lang domain.Language) string {
	return fmt.Sprintf(`The medicine name and description is: %s.
If the question is not directly related to the provided medicine, respond with:
"%s"
Now answer questions about this medicine. Question: %s.
Reply in %s.`,
		result, OffTopicReply, question, lang.Name)
}
