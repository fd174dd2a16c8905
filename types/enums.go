package types

import "fmt"

// ChatState is the purchase-flow state of a user. The value doubles as the tag
// persisted in user_states.state.
type ChatState string

const (
	StateStart                      ChatState = "BuyProcess:Start"
	StateBuying                     ChatState = "BuyProcess:Buying"
	StateWaitingPaymentConfirmation ChatState = "BuyProcess:WaitingPaymentConfirmation"
	StateProcessingApproval         ChatState = "BuyProcess:ProcessingApproval"
)

var chatStates = [...]ChatState{
	StateStart,
	StateBuying,
	StateWaitingPaymentConfirmation,
	StateProcessingApproval,
}

// ParseChatState maps a persisted tag back to a state. Unknown tags are an error.
func ParseChatState(tag string) (ChatState, error) {
	for _, s := range chatStates {
		if string(s) == tag {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown chat state %q", tag)
}

func (s ChatState) Valid() bool {
	_, err := ParseChatState(string(s))
	return err == nil
}

// AwaitingOperator reports whether the user side of the flow is frozen until
// the operator decides.
func (s ChatState) AwaitingOperator() bool {
	switch s {
	case StateWaitingPaymentConfirmation, StateProcessingApproval:
		return true
	case StateStart, StateBuying:
		return false
	}
	return false
}

// Decision is the operator's verdict on a submitted receipt.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Menu selects the reply keyboard attached to an outgoing message.
type Menu int

const (
	MenuNone Menu = iota
	MenuMain
	MenuCancel
)

// ReceiptKind tells how the receipt was uploaded.
type ReceiptKind string

const (
	ReceiptPhoto    ReceiptKind = "photo"
	ReceiptDocument ReceiptKind = "document"
)
