package dispatch

import (
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

// kindOf maps the provider's message type onto the closed kind set. Anything
// unrecognized is KindUnsupported; selection is total by construction.
func kindOf(providerType string) model.Kind {
	switch providerType {
	case "text":
		return model.KindText
	case "image":
		return model.KindImage
	case "audio", "voice":
		return model.KindAudio
	case "video":
		return model.KindVideo
	case "document":
		return model.KindDocument
	case "sticker":
		return model.KindSticker
	case "interactive":
		return model.KindInteractive
	case "button":
		return model.KindButton
	case "contacts":
		return model.KindContacts
	case "location":
		return model.KindLocation
	case "reaction":
		return model.KindReaction
	default:
		return model.KindUnsupported
	}
}

// extractContent builds the kind-specific payload. Each branch tolerates a
// missing sub-payload by degrading to the unsupported placeholder so a
// malformed message is still stored and flagged.
func extractContent(in Inbound) model.Content {
	kind := kindOf(in.Type)

	switch kind {
	case model.KindText:
		if in.Text != "" {
			return model.Content{Kind: model.KindText, Text: &model.TextContent{Body: in.Text}}
		}
	case model.KindImage, model.KindAudio, model.KindVideo, model.KindDocument, model.KindSticker:
		if in.Media != nil {
			return model.Content{Kind: kind, Media: in.Media}
		}
	case model.KindInteractive, model.KindButton:
		if in.Interactive != nil {
			return model.Content{Kind: kind, Interactive: in.Interactive}
		}
	case model.KindContacts:
		if len(in.Contacts) > 0 {
			return model.Content{Kind: model.KindContacts, Contacts: in.Contacts}
		}
	case model.KindLocation:
		if in.Location != nil {
			return model.Content{Kind: model.KindLocation, Location: in.Location}
		}
	case model.KindReaction:
		if in.Reaction != nil {
			return model.Content{Kind: model.KindReaction, Reaction: in.Reaction}
		}
	}

	return model.Content{Kind: model.KindUnsupported, Raw: in.Raw}
}
