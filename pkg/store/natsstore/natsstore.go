// Package natsstore persists units of work in a NATS JetStream stream, one
// message per commit, with the optimistic version check enforced by the
// expected-last-subject-sequence publish guard. Durable snapshots live in a
// JetStream KV bucket and are refreshed write-behind.
package natsstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/synadia-io/orbit.go/jetstreamext"

	"github.com/alekseev-bro/sourcing/internal/serde"
	"github.com/alekseev-bro/sourcing/internal/typereg"
	"github.com/alekseev-bro/sourcing/pkg/codec"
	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/store"
)

type StoreType jetstream.StorageType

const (
	Disk StoreType = iota
	Memory
)

const (
	defaultSnapshotThreshold = 100
	defaultSnapshotInterval  = time.Second
	defaultDedupeWindow      = 2 * time.Minute
)

type eventSerder[T any] interface {
	Serialize(domain.Event[T]) ([]byte, error)
	Deserialize(string, []byte) (domain.Event[T], error)
}

type typeRegistry interface {
	Register(tname string, c func() any)
	Create(name string) (any, error)
	NameFor(in any) (string, error)
}

type Store[T any] struct {
	js jetstream.JetStream
	kv jetstream.KeyValue

	tname      string
	boundedCtx string
	storeType  StoreType
	dedupe     time.Duration

	snapThreshold int
	snapInterval  time.Duration

	eventRegistry typeRegistry
	eventSerder   eventSerder[T]
	snapshotCodec codec.Codec

	// cursors maps each aggregate to the stream sequence of its last message
	// and the version it carried. The publish guard needs the stream-wide
	// sequence of the aggregate's last message, not the per-aggregate commit
	// count: subjects of different aggregates interleave on the shared
	// stream.
	cmu     sync.Mutex
	cursors map[domain.AggregateID]cursor
}

type cursor struct {
	version   domain.Version
	streamSeq uint64
}

// MetaFromType returns the aggregate name and bounded context name for T.
func MetaFromType[T any]() (aname string, bctx string) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		panic("T must be a struct")
	}
	aname = t.Name()
	sep := strings.Split(t.PkgPath(), "/")
	bctx = sep[len(sep)-1]
	return
}

func New[T any](ctx context.Context, js jetstream.JetStream, opts ...Option[T]) (*Store[T], error) {
	aname, bctx := MetaFromType[T]()

	reg := typereg.New()
	s := &Store[T]{
		js:            js,
		tname:         aname,
		boundedCtx:    bctx,
		dedupe:        defaultDedupeWindow,
		snapThreshold: defaultSnapshotThreshold,
		snapInterval:  defaultSnapshotInterval,
		eventRegistry: reg,
		eventSerder:   serde.NewSerder[domain.Event[T]](reg, codec.JSON),
		snapshotCodec: codec.JSON,
		cursors:       make(map[domain.AggregateID]cursor),
	}
	for _, o := range opts {
		o(s)
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.streamName(),
		Subjects:    []string{s.allSubjects()},
		Storage:     jetstream.StorageType(s.storeType),
		Duplicates:  s.dedupe,
		AllowDirect: true,
		RePublish: &jetstream.RePublish{
			Source:      s.allSubjects(),
			Destination: s.republishSubject(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("natsstore: create stream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  s.snapshotBucketName(),
		Storage: jetstream.StorageType(s.storeType),
	})
	if err != nil {
		return nil, fmt.Errorf("natsstore: create snapshot bucket: %w", err)
	}
	s.kv = kv

	return s, nil
}

func (s *Store[T]) streamName() string {
	return fmt.Sprintf("%s:%s", s.boundedCtx, s.tname)
}

func (s *Store[T]) allSubjects() string {
	return fmt.Sprintf("%s.>", s.streamName())
}

func (s *Store[T]) subjectForID(id domain.AggregateID) string {
	return fmt.Sprintf("%s.%s", s.streamName(), id)
}

func (s *Store[T]) republishSubject() string {
	return fmt.Sprintf("sub.%s.>", s.streamName())
}

func (s *Store[T]) snapshotBucketName() string {
	return fmt.Sprintf("snapshot-%s-%s", s.boundedCtx, s.tname)
}

// Append publishes the unit of work as one message on the aggregate's
// subject, expecting the subject's last message to be the one the unit of
// work was built against. A writer holding a stale snapshot expects the
// wrong message and is rejected. The returned sequence is the stream
// sequence of the commit.
func (s *Store[T]) Append(ctx context.Context, uow *domain.UnitOfWork[T]) (uint64, error) {
	id := uow.TargetID()
	cur, err := s.cursorFor(ctx, id, uow.Version)
	if err != nil {
		return 0, err
	}

	payload, err := s.encodeEnvelope(uow)
	if err != nil {
		return 0, fmt.Errorf("natsstore: append: %w", err)
	}

	subject := s.subjectForID(id)
	msg := nats.NewMsg(subject)
	msg.Header.Add(jetstream.MsgIDHeader, uow.ID.String())
	msg.Data = payload

	ack, err := s.js.PublishMsg(ctx, msg, jetstream.WithExpectLastSequenceForSubject(cur.streamSeq, subject))
	if err != nil {
		var apierr *jetstream.APIError
		if errors.As(err, &apierr) && apierr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, fmt.Errorf("natsstore: append %s at %d: %w", id, uow.Version, store.ErrVersionConflict)
		}
		return 0, fmt.Errorf("natsstore: append: %w", err)
	}
	s.setCursor(id, cursor{version: uow.Version, streamSeq: ack.Sequence})
	slog.Info("unit of work stored", "subject", subject, "stream", s.streamName(), "sequence", ack.Sequence)
	return ack.Sequence, nil
}

// cursorFor returns the cursor the unit of work must be appended after. A
// cursor at any other version means the unit of work was built from a stale
// snapshot; it cannot win, so the conflict is reported without a publish.
// An unknown aggregate is loaded first so cross-process commits are seen.
func (s *Store[T]) cursorFor(ctx context.Context, id domain.AggregateID, version domain.Version) (cursor, error) {
	s.cmu.Lock()
	cur, ok := s.cursors[id]
	s.cmu.Unlock()
	if !ok && version > 1 {
		if _, err := s.LoadLatest(ctx, id); err != nil {
			return cursor{}, fmt.Errorf("natsstore: append: %w", err)
		}
		s.cmu.Lock()
		cur = s.cursors[id]
		s.cmu.Unlock()
	}
	if cur.version != version-1 {
		return cursor{}, fmt.Errorf("natsstore: append %s at %d, stored %d: %w", id, version, cur.version, store.ErrVersionConflict)
	}
	return cur, nil
}

func (s *Store[T]) setCursor(id domain.AggregateID, cur cursor) {
	s.cmu.Lock()
	s.cursors[id] = cur
	s.cmu.Unlock()
}

// kvSnapshot is the KV record: the materialized state, its version and the
// stream sequence of the last commit folded into it, so replay resumes from
// the right position.
type kvSnapshot[T any] struct {
	StreamSeq uint64    `json:"stream_seq"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	State     T         `json:"state"`
}

// LoadLatest loads the durable snapshot, replays any commits past it and
// refreshes the snapshot write-behind when enough replay work accumulated.
func (s *Store[T]) LoadLatest(ctx context.Context, id domain.AggregateID) (domain.Snapshot[T], error) {
	rec := kvSnapshot[T]{}

	entry, err := s.kv.Get(ctx, kvKey(id))
	if err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			return domain.Snapshot[T]{}, fmt.Errorf("natsstore: load snapshot: %w", err)
		}
	} else {
		if err := s.snapshotCodec.Unmarshal(entry.Value(), &rec); err != nil {
			return domain.Snapshot[T]{}, fmt.Errorf("natsstore: decode snapshot: %w", err)
		}
	}

	snap := domain.Snapshot[T]{State: &rec.State, Version: domain.Version(rec.Version)}

	msgs, err := jetstreamext.GetBatch(ctx, s.js, s.streamName(), math.MaxInt,
		jetstreamext.GetBatchSubject(s.subjectForID(id)),
		jetstreamext.GetBatchSeq(rec.StreamSeq+1))
	if err != nil {
		return domain.Snapshot[T]{}, fmt.Errorf("natsstore: load: %w", err)
	}

	replayed := 0
	for msg, err := range msgs {
		if err != nil {
			if errors.Is(err, jetstreamext.ErrNoMessages) {
				break
			}
			return domain.Snapshot[T]{}, fmt.Errorf("natsstore: replay: %w", err)
		}
		envel, events, err := s.decodeEnvelope(msg.Data)
		if err != nil {
			return domain.Snapshot[T]{}, fmt.Errorf("natsstore: replay: %w", err)
		}
		events.Apply(snap.State)
		snap.Version = domain.Version(envel.Version)
		rec.StreamSeq = msg.Sequence
		replayed++
	}

	s.setCursor(id, cursor{version: snap.Version, streamSeq: rec.StreamSeq})

	if replayed >= s.snapThreshold && time.Since(rec.Timestamp) > s.snapInterval {
		go s.saveSnapshot(ctx, id, snap, rec.StreamSeq)
	}

	return snap, nil
}

// kvKey encodes the aggregate id into the KV key charset; raw ids may carry
// characters a KV key cannot.
func kvKey(id domain.AggregateID) string {
	return base64.URLEncoding.EncodeToString([]byte(id))
}

func (s *Store[T]) saveSnapshot(ctx context.Context, id domain.AggregateID, snap domain.Snapshot[T], streamSeq uint64) {
	rec := kvSnapshot[T]{
		StreamSeq: streamSeq,
		Version:   uint64(snap.Version),
		Timestamp: time.Now(),
		State:     *snap.State,
	}
	b, err := s.snapshotCodec.Marshal(rec)
	if err != nil {
		slog.Warn("snapshot save serialization", "error", err.Error())
		return
	}
	if _, err := s.kv.Put(ctx, kvKey(id), b); err != nil {
		slog.Error("snapshot save", "error", err.Error())
		return
	}
	slog.Info("snapshot saved", "version", snap.Version, "aggregate_id", id, "aggregate", s.tname)
}

func (s *Store[T]) encodeEnvelope(uow *domain.UnitOfWork[T]) ([]byte, error) {
	records := make([]store.EventRecord, len(uow.Events))
	for i, ev := range uow.Events {
		kind, err := s.eventRegistry.NameFor(ev)
		if err != nil {
			return nil, err
		}
		b, err := s.eventSerder.Serialize(ev)
		if err != nil {
			return nil, err
		}
		records[i] = store.EventRecord{Kind: kind, Payload: b}
	}
	return s.snapshotCodec.Marshal(store.Envelope{
		UnitOfWorkID: uow.ID.String(),
		CommandID:    uow.Command.CommandID().String(),
		AggregateID:  uow.TargetID().String(),
		Version:      uint64(uow.Version),
		Events:       records,
	})
}

func (s *Store[T]) decodeEnvelope(b []byte) (*store.Envelope, domain.Events[T], error) {
	var envel store.Envelope
	if err := s.snapshotCodec.Unmarshal(b, &envel); err != nil {
		return nil, nil, err
	}
	events := make(domain.Events[T], len(envel.Events))
	for i, rec := range envel.Events {
		ev, err := s.eventSerder.Deserialize(rec.Kind, rec.Payload)
		if err != nil {
			return nil, nil, err
		}
		events[i] = ev
	}
	return &envel, events, nil
}

func (s *Store[T]) projectionData(b []byte, streamSeq uint64) (domain.ProjectionData[T], error) {
	envel, events, err := s.decodeEnvelope(b)
	if err != nil {
		return domain.ProjectionData[T]{}, err
	}
	uowID, err := uuid.Parse(envel.UnitOfWorkID)
	if err != nil {
		return domain.ProjectionData[T]{}, fmt.Errorf("parse uow id: %w", err)
	}
	return domain.ProjectionData[T]{
		UnitOfWorkID: uowID,
		Sequence:     streamSeq,
		AggregateID:  domain.AggregateID(envel.AggregateID),
		Events:       events,
	}, nil
}
