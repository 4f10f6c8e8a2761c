// ABOUTME: Message intent normalization into one explicit tagged shape
// ABOUTME: Accepts a bare string (implies text) or a structured Intent, validated before any branching

package dispatch

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/praxiahq/chat-gateway/internal/store"
)

// ErrInvalidIntent is returned when a caller-supplied message description
// cannot be normalized. Always returned before any persistence.
var ErrInvalidIntent = errors.New("invalid message intent")

// Intent is the canonical pre-persistence description of an outbound message.
// Callers may pass either an Intent or a bare string to Dispatch; strings
// become text intents.
type Intent struct {
	Kind         string `validate:"required,oneof=text image document audio video"`
	Text         string
	MediaURL     string `validate:"omitempty,url"`
	Mime         string
	Caption      string
	FileName     string
	InternalNote bool
}

var validate = validator.New()

// NormalizeIntent canonicalizes a caller-supplied message description.
// Supported inputs: string, Intent, *Intent. Validation failures fail fast,
// before identity resolution or persistence.
func NormalizeIntent(raw any) (Intent, error) {
	var intent Intent

	switch v := raw.(type) {
	case string:
		intent = Intent{Kind: store.KindText, Text: v}
	case Intent:
		intent = v
	case *Intent:
		if v == nil {
			return Intent{}, fmt.Errorf("%w: nil intent", ErrInvalidIntent)
		}
		intent = *v
	default:
		return Intent{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidIntent, raw)
	}

	if err := validate.Struct(intent); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	switch intent.Kind {
	case store.KindText:
		if intent.Text == "" {
			return Intent{}, fmt.Errorf("%w: text intent requires text", ErrInvalidIntent)
		}
	default:
		if intent.MediaURL == "" {
			return Intent{}, fmt.Errorf("%w: %s intent requires a media URL", ErrInvalidIntent, intent.Kind)
		}
	}

	return intent, nil
}
