package service

import "encoding/json"

// command is the Raft log entry envelope: op names the operation, data
// carries its JSON-encoded payload.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opOpenSession  = "open_session"
	opCloseSession = "close_session"
	opKeepAlive    = "keep_alive"
	opCommand      = "command"
	opReset        = "reset"
)

type openSessionData struct {
	ServiceType string `json:"service_type"`
	ServiceName string `json:"service_name"`
}

type closeSessionData struct {
	SessionID uint64 `json:"session_id"`
}

type keepAliveData struct {
	SessionID       uint64 `json:"session_id"`
	CommandSequence uint64 `json:"command_sequence"`
	EventIndex      uint64 `json:"event_index"`
}

type commandData struct {
	SessionID       uint64 `json:"session_id"`
	RequestSequence uint64 `json:"request_sequence"`
	Name            string `json:"name"`
	Operation       []byte `json:"operation"`
}

type resetData struct {
	SessionID uint64 `json:"session_id"`
	Index     uint64 `json:"index"`
}

func encode(op string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(command{Op: op, Data: raw})
}
