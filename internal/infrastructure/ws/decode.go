package ws

import (
	"encoding/json"
	"fmt"

	"github.com/hilthontt/watchparty/internal/domain"
)

// Envelope is the shape of every inbound frame.
type Envelope struct {
	Type domain.CommandName `json:"type"`
	Data json.RawMessage    `json:"data"`
}

type decodeFunc func(data json.RawMessage) (domain.Command, error)

var decoders = map[domain.CommandName]decodeFunc{
	domain.CommandCreateRoom:     decodeAs[domain.CreateRoom],
	domain.CommandJoinRoom:       decodeAs[domain.JoinRoom],
	domain.CommandRejoinRoom:     decodeAs[domain.RejoinRoom],
	domain.CommandLeaveRoom:      decodeAs[domain.LeaveRoom],
	domain.CommandAddVideo:       decodeAs[domain.AddVideo],
	domain.CommandRemoveVideo:    decodeAs[domain.RemoveVideo],
	domain.CommandSkipVideo:      decodeAs[domain.SkipVideo],
	domain.CommandPlayPause:      decodeAs[domain.PlayPause],
	domain.CommandSeek:           decodeAs[domain.Seek],
	domain.CommandSendMessage:    decodeAs[domain.SendMessage],
	domain.CommandPinMessage:     decodeAs[domain.PinMessage],
	domain.CommandUpdateSettings: decodeAs[domain.UpdateSettings],
	domain.CommandUpdateNickname: decodeAs[domain.UpdateNickname],
	domain.CommandSendReaction:   decodeAs[domain.SendReaction],
}

func decodeAs[T domain.Command](data json.RawMessage) (domain.Command, error) {
	var cmd T
	if len(data) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Decode turns one inbound frame into its typed command. Field validation is
// left to the engine; every error here wraps domain.ErrInvalidInput.
func Decode(raw []byte) (domain.Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", domain.ErrInvalidInput, err)
	}

	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", domain.ErrInvalidInput, env.Type)
	}

	cmd, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidInput, env.Type, err)
	}
	return cmd, nil
}
