package approval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BatmanBruc/wgshop-bot/types"
)

var (
	ErrMalformedAction = errors.New("malformed approval action")
	ErrUnknownServer   = errors.New("unknown server")
)

// Action is one operator tap on an approve/reject button.
type Action struct {
	Decision types.Decision
	UserID   int64
	Server   string
	// Review is the operator's receipt message, edited once the decision is final.
	Review *types.MessageRef
}

// ParseAction decodes "approve_<chat>_<server>" and "reject_<chat>_<server>".
func ParseAction(data string) (Action, error) {
	parts := strings.Split(strings.TrimSpace(data), "_")
	if len(parts) != 3 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformedAction, data)
	}
	d := types.Decision(parts[0])
	if d != types.DecisionApprove && d != types.DecisionReject {
		return Action{}, fmt.Errorf("%w: decision %q", ErrMalformedAction, parts[0])
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return Action{}, fmt.Errorf("%w: user %q", ErrMalformedAction, parts[1])
	}
	if parts[2] == "" {
		return Action{}, fmt.Errorf("%w: empty server", ErrMalformedAction)
	}
	return Action{Decision: d, UserID: userID, Server: parts[2]}, nil
}

// IsActionData reports whether callback data looks like an operator decision.
func IsActionData(data string) bool {
	return strings.HasPrefix(data, string(types.DecisionApprove)+"_") ||
		strings.HasPrefix(data, string(types.DecisionReject)+"_")
}
