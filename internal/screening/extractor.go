package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leadline-ai/lead-concierge/internal/llm"
	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

var extractorTracer = otel.Tracer("leadline.internal.screening")

// AnswerDelta maps field ids to validated canonical answers extracted from
// one message. Fields the model was not confident about are absent.
type AnswerDelta map[string]string

// CompletionGateway is the slice of the LLM gateway the extractor needs.
type CompletionGateway interface {
	Complete(ctx context.Context, req llm.Request) (llm.Result, error)
}

// Extractor maps free text onto screening fields via the gateway's
// structured-output mode.
type Extractor struct {
	gateway CompletionGateway
	logger  *logging.Logger
	now     func() time.Time
}

// NewExtractor creates a field extractor backed by the given gateway.
func NewExtractor(gateway CompletionGateway, logger *logging.Logger) *Extractor {
	if gateway == nil {
		panic("screening: gateway cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{gateway: gateway, logger: logger, now: time.Now}
}

type extractionPayload struct {
	Answers     map[string]string `json:"answers"`
	Corrections []string          `json:"corrections"`
}

// Extract returns validated answers found in the message. It takes the
// full descriptor list so every value, corrections included, is normalized
// against the field's declared type. Already-answered fields are only
// overwritten when the model flags them as explicit corrections. A gateway
// failure propagates the wrapped upstream error so the caller can leave the
// turn unprocessed instead of treating the message as unparseable.
func (e *Extractor) Extract(ctx context.Context, fields []Field, message string, prior map[string]string) (AnswerDelta, error) {
	if strings.TrimSpace(message) == "" || len(fields) == 0 {
		return AnswerDelta{}, nil
	}
	pending := Pending(fields, prior)

	ctx, span := extractorTracer.Start(ctx, "screening.extract")
	defer span.End()
	span.SetAttributes(attribute.Int("leadline.screening.pending", len(pending)))

	result, err := e.gateway.Complete(ctx, llm.Request{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: e.buildPrompt(pending, prior)},
			{Role: llm.RoleUser, Content: message},
		},
		ResponseFormat: llm.FormatJSON,
		Temperature:    0.0,
		MaxTokens:      512,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("screening: extraction failed: %w", err)
	}

	payload, err := decodeExtraction(result.Content)
	if err != nil {
		e.logger.Warn("screening extraction returned malformed JSON", "error", err.Error())
		span.RecordError(err)
		return AnswerDelta{}, nil
	}

	corrections := make(map[string]bool, len(payload.Corrections))
	for _, id := range payload.Corrections {
		corrections[id] = true
	}

	fieldsByID := make(map[string]Field, len(fields))
	for _, f := range fields {
		fieldsByID[f.ID] = f
	}

	delta := AnswerDelta{}
	for id, raw := range payload.Answers {
		field, known := fieldsByID[id]
		if !known {
			continue
		}
		// Answered earlier; accept only explicit corrections.
		if _, answered := prior[id]; answered && !corrections[id] {
			continue
		}
		normalized, err := field.Normalize(raw)
		if err != nil {
			e.logger.Debug("dropping invalid extracted value", "field", id, "error", err.Error())
			continue
		}
		delta[id] = normalized
	}

	return delta, nil
}

func decodeExtraction(content string) (extractionPayload, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	var payload extractionPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &payload); err != nil {
		return extractionPayload{}, fmt.Errorf("screening: decode extraction: %w", err)
	}
	return payload, nil
}

func (e *Extractor) buildPrompt(pending []Field, prior map[string]string) string {
	var b strings.Builder
	b.WriteString("You extract structured answers from a prospective tenant's message.\n")
	b.WriteString("Today's date is ")
	b.WriteString(e.now().Format("2006-01-02"))
	b.WriteString(". Resolve relative dates (\"next month\") to ISO dates.\n\n")
	b.WriteString("Fields still needed:\n")
	for _, f := range pending {
		b.WriteString(describeField(f))
	}
	if len(prior) > 0 {
		b.WriteString("\nAlready answered (only include these in \"answers\" if the message explicitly corrects them, and list the id in \"corrections\"):\n")
		for id, v := range prior {
			fmt.Fprintf(&b, "- %s = %s\n", id, v)
		}
	}
	b.WriteString("\nReply with JSON only: {\"answers\": {\"<field_id>\": \"<value>\"}, \"corrections\": []}.\n")
	b.WriteString("Include a field only when the message clearly states its value. Never guess.")
	return b.String()
}

func describeField(f Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s): %s", f.ID, f.Type, f.Label)
	if len(f.Options) > 0 {
		fmt.Fprintf(&b, " [options: %s]", strings.Join(f.Options, ", "))
	}
	if f.Min != nil || f.Max != nil {
		b.WriteString(" [")
		if f.Min != nil {
			fmt.Fprintf(&b, "min %v", *f.Min)
		}
		if f.Min != nil && f.Max != nil {
			b.WriteString(", ")
		}
		if f.Max != nil {
			fmt.Fprintf(&b, "max %v", *f.Max)
		}
		b.WriteString("]")
	}
	b.WriteString("\n")
	return b.String()
}
