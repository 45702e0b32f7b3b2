package agent

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"omni-agent/internal/domain"
)

// perMessageOverhead approximates the role and separator tokens of one chat message.
const perMessageOverhead = 4

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates one token per four bytes of text.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return utf8.RuneCountInString(text)/4 + 1
}

// TiktokenCounter counts with a BPE encoding, loaded on first use. When the
// encoding cannot be loaded it falls back to HeuristicCounter.
type TiktokenCounter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the named encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string, logger *slog.Logger) *TiktokenCounter {
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("token encoding unavailable, using length heuristic",
				"encoding", c.encoding, "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// HistoryWindow selects the most recent history that fits both a message
// count limit and a token budget.
type HistoryWindow struct {
	limit   int
	budget  int
	counter TokenCounter
}

// NewHistoryWindow creates a window keeping at most limit messages and at most
// budget tokens (system prompt and current input included). budget <= 0 disables
// the token bound.
func NewHistoryWindow(limit, budget int, counter TokenCounter) *HistoryWindow {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &HistoryWindow{limit: limit, budget: budget, counter: counter}
}

// Fit returns the newest suffix of history that fits, in chronological order.
// System messages in history are dropped; the agent supplies its own.
func (w *HistoryWindow) Fit(system, input string, history []domain.Message) []domain.Message {
	var kept []domain.Message
	remaining := w.budget - w.cost(system) - w.cost(input)
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == domain.RoleSystem {
			continue
		}
		if w.limit > 0 && len(kept) >= w.limit {
			break
		}
		if w.budget > 0 {
			c := w.cost(m.Content)
			if c > remaining {
				break
			}
			remaining -= c
		}
		kept = append(kept, m)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func (w *HistoryWindow) cost(text string) int {
	return w.counter.Count(text) + perMessageOverhead
}
