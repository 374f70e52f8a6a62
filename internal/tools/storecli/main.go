package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/dwnproto/dsl"
	"xdao.co/dwncore/store"
	"xdao.co/dwncore/store/casregistry"

	_ "xdao.co/dwncore/store/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "put":
		return cmdPut(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "authorize":
		return cmdAuthorize(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "cascli: minimal blob-store and protocol-authorization tool for walkthroughs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  cascli put --backend localfs --localfs-dir <dir> <file>")
	fmt.Fprintln(w, "  cascli get --backend localfs --localfs-dir <dir> --cid <cid> [--out <file>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Protocol authorization:")
	fmt.Fprintln(w, "  cascli authorize --definition <file.pdl> --protocol <uri> --tenant <did> \\")
	fmt.Fprintln(w, "    --requester <did> --method Write|Read --record-id <id> [--parent-id <id>] \\")
	fmt.Fprintln(w, "    --protocol-path <path> [--schema <uri>] [--data-format <mime>] \\")
	fmt.Fprintln(w, "    [--recipient <did>] [--author <did>] [--ancestors <file.json>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - cascli stores raw blocks (CIDv1 raw + sha2-256)")
}

type commonFlags struct {
	backend      string
	listBackends bool
}

func (c *commonFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "localfs", "CAS backend name")
	fs.BoolVar(&c.listBackends, "list-backends", false, "List supported backends and exit")
	casregistry.RegisterFlags(fs, casregistry.UsageCLI)
}

func (c *commonFlags) openCAS() (store.CAS, func() error, error) {
	return casregistry.Open(c.backend, casregistry.UsageCLI)
}

func printBackends(w io.Writer) {
	for _, b := range casregistry.List(casregistry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

func cmdPut(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli put [common flags] <file>")
		return 2
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := fs.Arg(0)
	b, err := os.ReadFile(p)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(p), err)
		return 1
	}
	id, err := cas.Put(b)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, id.String())
	return 0
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var cidStr string
	var outPath string
	fs.StringVar(&cidStr, "cid", "", "CID to fetch")
	fs.StringVar(&outPath, "out", "", "Output file (optional; default stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if cidStr == "" {
		fmt.Fprintln(errOut, "missing --cid")
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: cascli get [common flags] --cid <cid> [--out <file>]")
		return 2
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	id, err := cid.Decode(cidStr)
	if err != nil {
		fmt.Fprintln(errOut, store.ErrInvalidCID)
		return 1
	}

	b, err := cas.Get(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	if outPath == "" {
		_, _ = out.Write(b)
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o600); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

// fileLookup is a dwnproto.AncestorLookup backed by a single parsed
// protocol definition plus an optional flat set of ancestor RecordViews
// loaded from a JSON file — enough to drive dwnproto.Authorize from the
// command line without standing up a real Message Store.
type fileLookup struct {
	protocol   string
	definition *dwnproto.Definition
	records    map[string]dwnproto.RecordView
}

func (f *fileLookup) GetRecord(_ context.Context, _ string, recordID string) (dwnproto.RecordView, bool, error) {
	v, ok := f.records[recordID]
	return v, ok, nil
}

func (f *fileLookup) GetDefinition(_ context.Context, _ string, protocol string) (*dwnproto.Definition, bool, error) {
	if protocol != f.protocol {
		return nil, false, nil
	}
	return f.definition, true, nil
}

func loadAncestors(path string) (map[string]dwnproto.RecordView, error) {
	if path == "" {
		return map[string]dwnproto.RecordView{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records map[string]dwnproto.RecordView
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

func cmdAuthorize(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var definitionPath, protocol, tenant, requester, method string
	var recordID, parentID, protocolPath, schema, dataFormat, recipient, author string
	var ancestorsPath string
	fs.StringVar(&definitionPath, "definition", "", "Path to a protocol definition in PDL text form")
	fs.StringVar(&protocol, "protocol", "", "Protocol URI the definition declares")
	fs.StringVar(&tenant, "tenant", "", "Tenant DID")
	fs.StringVar(&requester, "requester", "", "Requester DID")
	fs.StringVar(&method, "method", "Write", "Records method: Write|Read")
	fs.StringVar(&recordID, "record-id", "", "Incoming message's recordId")
	fs.StringVar(&parentID, "parent-id", "", "Incoming message's parentId (empty for an initial write)")
	fs.StringVar(&protocolPath, "protocol-path", "", "Incoming message's protocolPath")
	fs.StringVar(&schema, "schema", "", "Incoming message's schema")
	fs.StringVar(&dataFormat, "data-format", "", "Incoming message's dataFormat")
	fs.StringVar(&recipient, "recipient", "", "Incoming message's recipient DID")
	fs.StringVar(&author, "author", "", "Incoming message's author DID (defaults to --requester)")
	fs.StringVar(&ancestorsPath, "ancestors", "", "Path to a JSON map of recordId to ancestor RecordView")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if definitionPath == "" || protocol == "" || tenant == "" || requester == "" {
		fmt.Fprintln(errOut, "usage: cascli authorize --definition <file.pdl> --protocol <uri> --tenant <did> --requester <did> ...")
		return 2
	}
	if author == "" {
		author = requester
	}

	defBytes, err := os.ReadFile(definitionPath)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", definitionPath, err)
		return 1
	}
	def, err := dsl.Parse(defBytes)
	if err != nil {
		fmt.Fprintf(errOut, "parse %s: %v\n", definitionPath, err)
		return 1
	}
	records, err := loadAncestors(ancestorsPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	view := dwnproto.RecordView{
		RecordID:     recordID,
		ParentID:     parentID,
		Protocol:     protocol,
		ProtocolPath: protocolPath,
		Schema:       schema,
		DataFormat:   dataFormat,
		Recipient:    recipient,
		Author:       author,
		Method:       method,
	}
	lookup := &fileLookup{protocol: protocol, definition: def, records: records}

	if err := dwnproto.Authorize(context.Background(), tenant, view, requester, lookup); err != nil {
		var derr *dwnerrors.Error
		if errors.As(err, &derr) {
			fmt.Fprintf(errOut, "denied: %s: %s\n", derr.Code, derr.Message)
		} else {
			fmt.Fprintln(errOut, err)
		}
		return 1
	}
	_, _ = fmt.Fprintln(out, "authorized")
	return 0
}
