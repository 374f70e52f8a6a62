package dsl

import (
	"testing"

	"xdao.co/dwncore/dwnproto"
)

const validDefinition = `-----BEGIN DWN PROTOCOL DEFINITION-----
META
Protocol: https://example.com/thread

RECORD thread
Schema: https://example.com/schema/thread
DataFormats: application/json
Allow: anyone read,write

RECORD thread/message
Schema: https://example.com/schema/message
DataFormats: application/json,text/plain
Allow: author(thread) read,write
Allow: recipient(thread) read
-----END DWN PROTOCOL DEFINITION-----`

func TestParseValidDefinition(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	if err != nil {
		t.Fatalf("expected valid definition, got error: %v", err)
	}
	if def.Protocol != "https://example.com/thread" {
		t.Fatalf("unexpected protocol: %q", def.Protocol)
	}
	thread, ok := def.Records["thread"]
	if !ok {
		t.Fatalf("expected thread record definition")
	}
	if len(thread.Allow) != 1 || thread.Allow[0].Actor != dwnproto.ActorAnyone {
		t.Fatalf("expected anyone allow rule on thread, got %+v", thread.Allow)
	}
	message, ok := thread.Records["message"]
	if !ok {
		t.Fatalf("expected nested thread/message record definition")
	}
	if len(message.DataFormats) != 2 {
		t.Fatalf("expected two data formats, got %+v", message.DataFormats)
	}
	if len(message.Allow) != 2 {
		t.Fatalf("expected two allow rules on message, got %+v", message.Allow)
	}
	if message.Allow[0].Actor != dwnproto.ActorAuthor || message.Allow[0].ProtocolPath != "thread" {
		t.Fatalf("expected author(thread) as first allow rule, got %+v", message.Allow[0])
	}
}

func TestParseRejectsMissingPreamble(t *testing.T) {
	if _, err := Parse([]byte("META\nProtocol: x\n")); err == nil {
		t.Fatalf("expected error for missing preamble")
	}
}

func TestParseRejectsMissingProtocol(t *testing.T) {
	text := `-----BEGIN DWN PROTOCOL DEFINITION-----
META
Version: 1
-----END DWN PROTOCOL DEFINITION-----`
	if _, err := Parse([]byte(text)); err == nil {
		t.Fatalf("expected error for missing Protocol key")
	}
}

func TestParseRejectsUnrecognizedActor(t *testing.T) {
	text := `-----BEGIN DWN PROTOCOL DEFINITION-----
META
Protocol: https://example.com/x

RECORD thing
Allow: nobody read
-----END DWN PROTOCOL DEFINITION-----`
	if _, err := Parse([]byte(text)); err == nil {
		t.Fatalf("expected error for unrecognized actor")
	}
}

func TestParseRejectsCRLineEndings(t *testing.T) {
	if _, err := Parse([]byte("-----BEGIN DWN PROTOCOL DEFINITION-----\r\n")); err == nil {
		t.Fatalf("expected error for CR line endings")
	}
}
