package ledger

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SessionRef is the session id recovered from a registration receipt. Confirmed
// is false when no SessionCreated log could be read and the id predicted by the
// pre-send simulation was used instead.
type SessionRef struct {
	ID        common.Hash
	Confirmed bool
}

// DecodeSessionID extracts the session id from the SessionCreated log emitted by
// settlement. A structured decode is tried first, then the raw first indexed
// topic. If neither yields an id the predicted one is returned unconfirmed.
func DecodeSessionID(logs []*types.Log, settlement common.Address, predicted common.Hash) SessionRef {
	if id, ok := decodeStructured(logs, settlement); ok {
		return SessionRef{ID: id, Confirmed: true}
	}
	if id, ok := decodeRawTopic(logs, settlement); ok {
		return SessionRef{ID: id, Confirmed: true}
	}
	return SessionRef{ID: predicted, Confirmed: false}
}

func decodeStructured(logs []*types.Log, settlement common.Address) (common.Hash, bool) {
	event := sessionManagerABI.Events["SessionCreated"]

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	for _, l := range logs {
		if l == nil || l.Address != settlement || len(l.Topics) != len(indexed)+1 || l.Topics[0] != event.ID {
			continue
		}

		fields := make(map[string]interface{})
		if err := sessionManagerABI.UnpackIntoMap(fields, event.Name, l.Data); err != nil {
			continue
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
			continue
		}

		id, ok := fields["sessionId"].([32]byte)
		if !ok || id == ([32]byte{}) {
			continue
		}
		return common.Hash(id), true
	}
	return common.Hash{}, false
}

func decodeRawTopic(logs []*types.Log, settlement common.Address) (common.Hash, bool) {
	topic := SessionCreatedTopic()
	for _, l := range logs {
		if l == nil || l.Address != settlement || len(l.Topics) < 2 || l.Topics[0] != topic {
			continue
		}
		if l.Topics[1] == (common.Hash{}) {
			continue
		}
		return l.Topics[1], true
	}
	return common.Hash{}, false
}
