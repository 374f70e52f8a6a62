// Package records implements the Records interface's message handlers:
// Write, Read, Query, and Delete (spec.md §4.4 and its SPEC_FULL
// supplements).
package records

import (
	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/message"
)

// ViewOf extracts the dwnproto.RecordView the authorization evaluator needs
// from a full message.Message. method is the incoming message's Records
// method ("Write" or "Read"); for a Read, most fields other than RecordID
// are irrelevant since the evaluator re-derives them from the stored write.
func ViewOf(m message.Message, method string) (dwnproto.RecordView, error) {
	if m.Descriptor.Interface != "Records" {
		return dwnproto.RecordView{}, dwnerrors.New(dwnerrors.KindMalformed, "NotARecordsMessage",
			"descriptor.interface must be Records")
	}
	return dwnproto.RecordView{
		RecordID:     m.RecordID,
		ContextID:    m.ContextID,
		ParentID:     stringField(m.Descriptor, "parentId"),
		Protocol:     stringField(m.Descriptor, "protocol"),
		ProtocolPath: stringField(m.Descriptor, "protocolPath"),
		Schema:       stringField(m.Descriptor, "schema"),
		DataFormat:   stringField(m.Descriptor, "dataFormat"),
		Recipient:    stringField(m.Descriptor, "recipient"),
		Author:       m.Author(),
		Method:       method,
	}, nil
}

func stringField(d message.Descriptor, key string) string {
	v, ok := d.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IsInitialWrite reports whether m declares no parentId — the marker of an
// initial write for convergence purposes (spec.md §4.4's
// InitialWriteCollision rule). A full structural check that recordId
// actually equals entryId(descriptor, tenant) is a separate validity check,
// not performed here: two writes can collide on recordId while disagreeing
// about being "initial" only via parentId, which is exactly the case this
// rule exists to catch.
func IsInitialWrite(m message.Message) bool {
	return stringField(m.Descriptor, "parentId") == ""
}
