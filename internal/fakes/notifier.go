package fakes

import (
	"context"
	"sync"

	"github.com/BatmanBruc/wgshop-bot/types"
)

type Message struct {
	ChatID int64
	Text   string
	Menu   types.Menu
}

type Photo struct {
	ChatID   int64
	FileName string
	PNG      []byte
	Caption  string
}

type Caption struct {
	Ref  types.MessageRef
	Text string
}

// Notifier records everything the bot would have sent.
type Notifier struct {
	mu       sync.Mutex
	Messages []Message
	Photos   []Photo
	Reviews  []types.ReviewRequest
	Captions []Caption

	ReviewErr error
}

var _ types.Notifier = (*Notifier)(nil)

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) Send(_ context.Context, chatID int64, text string, menu types.Menu) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, Message{ChatID: chatID, Text: text, Menu: menu})
	return nil
}

func (n *Notifier) SendPhoto(_ context.Context, chatID int64, fileName string, png []byte, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Photos = append(n.Photos, Photo{ChatID: chatID, FileName: fileName, PNG: png, Caption: caption})
	return nil
}

func (n *Notifier) SendReview(_ context.Context, _ int64, req types.ReviewRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ReviewErr != nil {
		return n.ReviewErr
	}
	n.Reviews = append(n.Reviews, req)
	return nil
}

func (n *Notifier) EditCaption(_ context.Context, ref types.MessageRef, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Captions = append(n.Captions, Caption{Ref: ref, Text: caption})
	return nil
}

// To returns the texts sent to chatID in order.
func (n *Notifier) To(chatID int64) []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Message
	for _, m := range n.Messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (n *Notifier) Last(chatID int64) (Message, bool) {
	msgs := n.To(chatID)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func (n *Notifier) PhotoCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Photos)
}
