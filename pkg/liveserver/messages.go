package liveserver

// Message is one JSON frame on the dashboard feed.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Frame types. Snapshot is sent once on connect; decision and cycle frames
// follow as the scan loop produces them.
const (
	TypeSnapshot = "snapshot"
	TypeDecision = "decision"
	TypeCycle    = "cycle"
)

func NewSnapshotMessage(data interface{}) Message {
	return Message{Type: TypeSnapshot, Data: data}
}

func NewDecisionMessage(data interface{}) Message {
	return Message{Type: TypeDecision, Data: data}
}

func NewCycleMessage(data interface{}) Message {
	return Message{Type: TypeCycle, Data: data}
}
