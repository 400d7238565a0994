package network

import (
	"errors"
	"log"
	"time"

	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
	"github.com/ZentaChain/zentalk-lite/pkg/storage"
)

// deliveryRecorder receives one record per routing decision
type deliveryRecorder interface {
	Record(rec storage.DeliveryRecord)
}

// RouterCounters counts routing outcomes since start
type RouterCounters struct {
	Routed       uint64 `json:"routed"`
	NotFound     uint64 `json:"not_found"`
	Malformed    uint64 `json:"malformed"`
	ListRequests uint64 `json:"list_requests"`
}

// Router forwards client lines to their destination.
// Envelopes are opaque: the router never opens them.
type Router struct {
	registry *Registry
	recorder deliveryRecorder
	counters RouterCounters
}

// NewRouter creates a router resolving identities through registry
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// AttachRecorder attaches a delivery audit sink
func (r *Router) AttachRecorder(rec deliveryRecorder) {
	r.recorder = rec
}

// Counters returns outcome counters
func (r *Router) Counters() RouterCounters {
	return r.counters
}

// Route handles one line from sender. Every outcome is a line queued on the
// sender or on the recipient; a delivered message is not acknowledged.
func (r *Router) Route(sender *Conn, line string) {
	senderID, ok := r.registry.IdentityOf(sender)
	if !ok {
		log.Printf("Dropping line from unregistered connection %s", sender.RemoteAddr())
		return
	}

	req, err := protocol.ParseRequest(line)
	switch {
	case errors.Is(err, protocol.ErrMissingSeparator):
		r.counters.Malformed++
		sender.Enqueue(protocol.FormatInvalidFormat())
		r.record(senderID, 0, storage.OutcomeMalformed)
		return

	case err != nil:
		r.counters.Malformed++
		sender.Enqueue(protocol.FormatParseError(err))
		r.record(senderID, 0, storage.OutcomeMalformed)
		return
	}

	if req.Kind == protocol.RequestList {
		r.counters.ListRequests++
		sender.Enqueue(protocol.FormatList(identitiesToInts(r.registry.Identities())))
		r.record(senderID, 0, storage.OutcomeList)
		return
	}

	dest := Identity(req.Recipient)
	recipient, err := r.registry.Resolve(dest)
	if err != nil {
		r.counters.NotFound++
		sender.Enqueue(protocol.FormatNotFound(req.Recipient))
		r.record(senderID, dest, storage.OutcomeNotFound)
		return
	}

	recipient.Enqueue(protocol.FormatRouted(int(senderID), req.Ciphertext))
	r.counters.Routed++
	r.record(senderID, dest, storage.OutcomeDelivered)

	log.Printf("📨 %d -> %d (%d bytes)", senderID, dest, len(req.Ciphertext))
}

func (r *Router) record(sender, recipient Identity, outcome storage.Outcome) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(storage.DeliveryRecord{
		SenderID:    int(sender),
		RecipientID: int(recipient),
		Outcome:     outcome,
		Timestamp:   time.Now().Unix(),
	})
}

func identitiesToInts(ids []Identity) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
