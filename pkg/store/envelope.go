package store

// Envelope is the persisted form of one unit of work: one atomic record per
// commit, carrying the ordered events as kind-tagged payloads. The command
// itself is not persisted, only its id, so replays never depend on command
// types staying decodable.
type Envelope struct {
	UnitOfWorkID string        `json:"uow_id"`
	CommandID    string        `json:"command_id"`
	AggregateID  string        `json:"aggregate_id"`
	Version      uint64        `json:"version"`
	Events       []EventRecord `json:"events"`
}

type EventRecord struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}
