package records

import (
	"context"

	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// MessageStoreLookup adapts a store.MessageStore into the narrow
// dwnproto.AncestorLookup interface the protocol-authorization evaluator
// needs.
type MessageStoreLookup struct {
	Messages store.MessageStore
}

func (l MessageStoreLookup) GetRecord(ctx context.Context, tenant, recordID string) (dwnproto.RecordView, bool, error) {
	matches, err := l.Messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface: {"Records"},
		store.IndexMethod:    {"Write"},
		store.IndexRecordID:  {recordID},
	})
	if err != nil {
		return dwnproto.RecordView{}, false, err
	}
	if len(matches) == 0 {
		return dwnproto.RecordView{}, false, nil
	}
	newest, err := newestOf(matches)
	if err != nil {
		return dwnproto.RecordView{}, false, err
	}
	view, err := ViewOf(newest, "Write")
	if err != nil {
		return dwnproto.RecordView{}, false, err
	}
	return view, true, nil
}

func (l MessageStoreLookup) GetDefinition(ctx context.Context, tenant, protocol string) (*dwnproto.Definition, bool, error) {
	matches, err := l.Messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface: {"Protocols"},
		store.IndexMethod:    {"Configure"},
		store.IndexProtocol:  {protocol},
	})
	if err != nil {
		return nil, false, err
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	newest, err := newestOf(matches)
	if err != nil {
		return nil, false, err
	}
	fields, ok := newest.Descriptor.Fields["definition"].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	def, err := dwnproto.DefinitionFromFields(fields)
	if err != nil {
		return nil, false, err
	}
	return def, true, nil
}

// newestOf returns the message that sorts last under the engine's
// (messageTimestamp, cid) total order.
func newestOf(matches []message.Message) (message.Message, error) {
	best := matches[0]
	bestCID, err := message.CID(best)
	if err != nil {
		return message.Message{}, err
	}
	bestTS := message.Timestamp(best)
	for _, cand := range matches[1:] {
		candCID, err := message.CID(cand)
		if err != nil {
			return message.Message{}, err
		}
		candTS := message.Timestamp(cand)
		if message.Less(bestTS, bestCID, candTS, candCID) {
			best, bestCID, bestTS = cand, candCID, candTS
		}
	}
	return best, nil
}
