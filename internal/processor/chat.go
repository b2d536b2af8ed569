package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricedesk/internal/llm"
	"github.com/sells-group/pricedesk/internal/model"
)

// OfferExtractor is the LLM extraction capability processors depend on.
type OfferExtractor interface {
	ExtractOffers(ctx context.Context, lines []string, ec llm.ExtractionContext) ([]model.RawOffer, []string, error)
}

var timePattern = regexp.MustCompile(`^\d{1,2}:\d{2}`)

// chat chrome that never carries an offer
var chatSkipPrefixes = []string{
	"groups",
	"business",
	"purchase",
	"chats",
	"calls",
	"updates",
	"tools",
	"voice call",
	"video call",
	"you joined",
	"messages and calls are end-to-end encrypted",
	"this chat is with a business account",
	"missed voice call",
	"missed video call",
	"security code changed",
	"added you",
	"media omitted",
}

var chatReactionPrefixes = []string{"you reacted", "reacted"}

// ChatTextProcessor parses exported chat transcripts. It runs the heuristic
// line parser first and uses the LLM extractor when preferred or when the
// heuristics come up empty.
type ChatTextProcessor struct {
	extractor OfferExtractor
}

func NewChatTextProcessor(extractor OfferExtractor) *ChatTextProcessor {
	return &ChatTextProcessor{extractor: extractor}
}

func (p *ChatTextProcessor) Name() string { return "chat_text" }

func (p *ChatTextProcessor) Suffixes() []string { return []string{".txt"} }

func (p *ChatTextProcessor) Process(ctx context.Context, path string, pctx Context) (*Result, error) {
	text, err := readTextFile(path)
	if err != nil {
		return nil, err
	}
	rawLines := strings.Split(text, "\n")

	currency := pctx.Currency
	if currency == "" {
		currency = "USD"
	}

	var (
		offers         []model.RawOffer
		errs           []string
		currentSpeaker string
	)
	for i, rawLine := range rawLines {
		idx := i + 1
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		lowered := strings.ToLower(line)
		if hasAnyPrefix(lowered, chatSkipPrefixes) || hasAnyPrefix(lowered, chatReactionPrefixes) {
			continue
		}
		if lowered == "photo" || lowered == "video" {
			continue
		}
		if timePattern.MatchString(line) {
			currentSpeaker = ""
			continue
		}
		if strings.HasSuffix(line, ":") && len(line) <= 40 {
			currentSpeaker = strings.TrimRight(line, ": ")
			continue
		}

		speaker := pctx.VendorName
		if speaker == "" {
			speaker = currentSpeaker
		}
		if speaker == "" {
			speaker = "Chat Vendor"
		}

		payload := map[string]any{"line_number": idx, "speaker": speaker}
		if pctx.SourceMessageID != "" {
			payload["source_message_id"] = pctx.SourceMessageID
		}
		offer, reason := parseOfferLine(line, speaker, currency, time.Time{}, payload)
		if offer != nil {
			offers = append(offers, *offer)
		} else if reason != "" {
			// only surface misses that plausibly contained a price
			if strings.Contains(line, "$") || strings.Contains(lowered, "usd") {
				errs = append(errs, fmt.Sprintf("line %d: %s", idx, reason))
			}
		}
	}

	useLLM := pctx.PreferLLM || len(offers) == 0
	var llmErrs []string
	if useLLM && !pctx.DisableLLM && p.extractor != nil {
		llmOffers, warnings, err := p.extractor.ExtractOffers(ctx, rawLines, llm.ExtractionContext{
			VendorHint:        defaultStr(pctx.VendorName, "Chat Vendor"),
			CurrencyHint:      currency,
			DocumentName:      filepath.Base(path),
			DocumentKind:      "chat_transcript",
			ExtraInstructions: chatInstructions(pctx),
		})
		switch {
		case err != nil:
			zap.L().Debug("llm extraction unavailable", zap.Error(err))
			llmErrs = append(llmErrs, err.Error())
		case len(llmOffers) > 0:
			attachMessageRef(llmOffers, pctx.SourceMessageID)
			if pctx.PreferLLM || len(offers) == 0 {
				return &Result{Offers: llmOffers, Errors: append(errs, warnings...)}, nil
			}
			llmErrs = append(llmErrs, warnings...)
		default:
			llmErrs = append(llmErrs, warnings...)
		}
	}

	if len(offers) > 0 {
		return &Result{Offers: offers, Errors: append(errs, llmErrs...)}, nil
	}

	combined := append(errs, llmErrs...)
	if len(combined) == 0 {
		combined = append(combined, "no offers extracted from chat transcript")
	}
	return &Result{Errors: combined}, nil
}

func chatInstructions(pctx Context) string {
	instructions := "Messages are from a chat export. Only return rows that clearly describe a " +
		"product AND a price. Ignore greetings, reactions, and status updates."
	if pctx.MediaCaption != "" {
		instructions += " The message included media captioned: " + pctx.MediaCaption + "."
	}
	if pctx.LLMInstructions != "" {
		instructions += " " + pctx.LLMInstructions
	}
	return instructions
}

func attachMessageRef(offers []model.RawOffer, messageID string) {
	if messageID == "" {
		return
	}
	for i := range offers {
		if offers[i].RawPayload == nil {
			offers[i].RawPayload = map[string]any{}
		}
		if _, exists := offers[i].RawPayload["source_message_id"]; !exists {
			offers[i].RawPayload["source_message_id"] = messageID
		}
	}
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "processor: read %s", path)
	}
	// tolerate invalid encodings the way chat exports require
	return strings.ToValidUTF8(string(data), ""), nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
