// Command dwnd wires the Message Store, Data Store, Event Log, and DID
// resolver together behind engine.ProcessMessage, one flag.FlagSet per
// subcommand in the style internal/tools/storecli also uses.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/didresolve"
	"xdao.co/dwncore/engine"
	"xdao.co/dwncore/keys"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
	"xdao.co/dwncore/store/bundle"
	"xdao.co/dwncore/store/casconfig"
	"xdao.co/dwncore/store/casregistry"
	"xdao.co/dwncore/store/fsstore"
	"xdao.co/dwncore/store/memstore"

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
	case "submit":
		return cmdSubmit(args[1:], out, errOut)
	case "events":
		return cmdEvents(args[1:], out, errOut)
	case "export":
		return cmdExport(args[1:], out, errOut)
	case "import":
		return cmdImport(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
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
	fmt.Fprintln(w, "dwnd: a Decentralized Web Node message-processing engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dwnd submit --tenant <did> --data-root <dir> <message.cbor>")
	fmt.Fprintln(w, "  dwnd submit --tenant <did> --memory <message.cbor>")
	fmt.Fprintln(w, "  dwnd events --tenant <did> --data-root <dir> [--cursor <cid>]")
	fmt.Fprintln(w, "  dwnd export --tenant <did> --data-root <dir> <bundle.tar> <cid>...")
	fmt.Fprintln(w, "  dwnd import --tenant <did> --data-root <dir> <bundle.tar>")
	fmt.Fprintln(w, "  dwnd key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  dwnd key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  dwnd key list")
	fmt.Fprintln(w, "  dwnd key export --name <name> [--role <role>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - --data-root persists the Message Store/Data Store/Event Log to disk")
	fmt.Fprintln(w, "    (store/fsstore); --memory keeps everything in process memory and is")
	fmt.Fprintln(w, "    discarded on exit (store/memstore). One or the other is required.")
	fmt.Fprintln(w, "  - DID resolution only supports did:key identifiers in this CLI")
	fmt.Fprintln(w, "    (didresolve.KeyResolver); a production host would plug in a did:web")
	fmt.Fprintln(w, "    or did:ion resolver behind the same didresolve.DIDResolver interface")
	fmt.Fprintln(w, "  - a message file is the CBOR encoding message.Marshal produces")
	fmt.Fprintln(w, "  - export/import move a tenant's content-addressed blobs as a tar")
	fmt.Fprintln(w, "    bundle (store/bundle), e.g. to migrate a tenant between hosts;")
	fmt.Fprintln(w, "    they require --data-root, since store/memstore keeps no CAS to")
	fmt.Fprintln(w, "    bundle from")
}

// engineBackend opens the stores dataRoot/memory select and wires an
// *engine.Engine over them. The returned func releases any resources the
// backend holds; fsstore holds none today but the symmetry with
// casregistry.Open's (value, closeFn, err) shape keeps both backends
// swappable without changing call sites.
func engineBackend(dataRoot string, memory bool, casConfigPath string) (*engine.Engine, func() error, error) {
	resolver := didresolve.NewCached(didresolve.KeyResolver{}, 5*time.Minute)

	var messages interface {
		store.MessageStore
		store.EventLog
	}
	var data store.DataStore
	closeFn := func() error { return nil }

	switch {
	case memory:
		s := memstore.New()
		messages = s
		data = memstore.DataStoreView{Store: s}
	case dataRoot != "":
		s, err := fsstore.New(dataRoot)
		if err != nil {
			return nil, nil, err
		}
		messages = s
		data = fsstore.DataStoreView{Store: s}
	default:
		return nil, nil, fmt.Errorf("one of --data-root or --memory is required")
	}

	if casConfigPath != "" {
		cfg, err := casconfig.LoadFile(casConfigPath)
		if err != nil {
			return nil, nil, err
		}
		cas, cf, err := cfg.Open(casregistry.UsageDaemon, "")
		if err != nil {
			return nil, nil, err
		}
		data = store.CASDataStore{CAS: cas}
		closeFn = cf
	}

	return engine.New(messages, data, messages, resolver), closeFn, nil
}

func cmdSubmit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var tenant, dataRoot, casConfigPath string
	var memory bool
	var verbose bool
	fs.StringVar(&tenant, "tenant", "", "Tenant DID the message is submitted to")
	fs.StringVar(&dataRoot, "data-root", "", "Root directory for a persistent store/fsstore backend")
	fs.BoolVar(&memory, "memory", false, "Use an in-memory store/memstore backend")
	fs.StringVar(&casConfigPath, "cas-config", "", "Optional casconfig JSON file selecting the Data Store's blob backend")
	fs.BoolVar(&verbose, "v", false, "Emit debug-level logging to stderr")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if tenant == "" {
		fmt.Fprintln(errOut, "missing --tenant")
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: dwnd submit --tenant <did> (--data-root <dir> | --memory) <message.cbor>")
		return 2
	}

	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read message: %v\n", err)
		return 1
	}
	msg, err := message.Unmarshal(b)
	if err != nil {
		fmt.Fprintf(errOut, "decode message: %v\n", err)
		return 1
	}

	e, closeFn, err := engineBackend(dataRoot, memory, casConfigPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeFn()

	result := e.ProcessMessage(context.Background(), tenant, msg)
	fmt.Fprintf(out, "status: %d\n", result.Status.Code)
	if result.CID != "" {
		fmt.Fprintf(out, "cid: %s\n", result.CID)
	}
	if result.Status.Detail != "" {
		fmt.Fprintf(out, "detail: %s\n", result.Status.Detail)
	}
	if result.Status.Code >= 400 {
		return 1
	}
	return 0
}

func cmdEvents(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var tenant, dataRoot, cursorStr string
	var memory bool
	fs.StringVar(&tenant, "tenant", "", "Tenant DID to read the Event Log for")
	fs.StringVar(&dataRoot, "data-root", "", "Root directory for a persistent store/fsstore backend")
	fs.BoolVar(&memory, "memory", false, "Use an in-memory store/memstore backend (will be empty)")
	fs.StringVar(&cursorStr, "cursor", "", "Resume from this CID instead of the start of the log")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if tenant == "" {
		fmt.Fprintln(errOut, "missing --tenant")
		return 2
	}

	e, closeFn, err := engineBackend(dataRoot, memory, "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeFn()

	var cursor *cid.Cid
	if cursorStr != "" {
		c, err := cid.Decode(cursorStr)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --cursor: %v\n", err)
			return 2
		}
		cursor = &c
	}

	events, next, err := e.Events.GetEvents(context.Background(), tenant, cursor)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, c := range events {
		fmt.Fprintln(out, c.String())
	}
	if next != nil {
		fmt.Fprintf(errOut, "next cursor: %s\n", next.String())
	}
	return 0
}

// cmdExport bundles a tenant's named blobs (by dataCid) into a tar archive,
// for migrating a tenant's Data Store between hosts or backends.
func cmdExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var tenant, dataRoot string
	fs.StringVar(&tenant, "tenant", "", "Tenant DID whose blobs are exported")
	fs.StringVar(&dataRoot, "data-root", "", "Root directory of a store/fsstore backend")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if tenant == "" {
		fmt.Fprintln(errOut, "missing --tenant")
		return 2
	}
	if dataRoot == "" {
		fmt.Fprintln(errOut, "export requires --data-root (store/memstore keeps no CAS to bundle)")
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(errOut, "usage: dwnd export --tenant <did> --data-root <dir> <bundle.tar> <cid>...")
		return 2
	}

	s, err := fsstore.New(dataRoot)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	cas, err := s.CASFor(tenant)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	ids := make([]cid.Cid, 0, fs.NArg()-1)
	for _, arg := range fs.Args()[1:] {
		id, err := cid.Decode(arg)
		if err != nil {
			fmt.Fprintf(errOut, "invalid cid %q: %v\n", arg, err)
			return 2
		}
		ids = append(ids, id)
	}

	f, err := os.Create(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer f.Close()

	if err := bundle.Export(f, cas, ids, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "exported %d block(s) to %s\n", len(ids), fs.Arg(0))
	return 0
}

// cmdImport restores blocks from a tar bundle (cmdExport's output) into a
// tenant's blob store, validating each block's bytes against its CID.
func cmdImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var tenant, dataRoot string
	fs.StringVar(&tenant, "tenant", "", "Tenant DID the blobs are imported into")
	fs.StringVar(&dataRoot, "data-root", "", "Root directory of a store/fsstore backend")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if tenant == "" {
		fmt.Fprintln(errOut, "missing --tenant")
		return 2
	}
	if dataRoot == "" {
		fmt.Fprintln(errOut, "import requires --data-root (store/memstore keeps no CAS to bundle)")
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: dwnd import --tenant <did> --data-root <dir> <bundle.tar>")
		return 2
	}

	s, err := fsstore.New(dataRoot)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	cas, err := s.CASFor(tenant)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer f.Close()

	if err := bundle.Import(f, cas); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "imported blocks from %s\n", fs.Arg(0))
	return 0
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "dwnd key: minimal local key management (KMS-lite)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dwnd key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  dwnd key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  dwnd key list")
	fmt.Fprintln(w, "  dwnd key export --name <name> [--role <role>]")
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name, seedHex string
	var force bool
	fs.StringVar(&name, "name", "", "Key name (directory under the key store)")
	fs.StringVar(&seedHex, "seed-hex", "", "Optional ed25519 seed as 64 hex chars (for reproducible demos)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(errOut, "invalid --name: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}

	var seed []byte
	if seedHex != "" {
		seed, err = keys.ParseSeedHex(seedHex)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", err)
			return 2
		}
	} else {
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintf(errOut, "rand: %v\n", err)
			return 1
		}
	}

	signerKey, rootPath, err := ks.InitializeRootKey(name, seed, force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created root key: %s\n", signerKey)
	fmt.Fprintf(out, "did:key identifier: did:key:%s\n", signerKey)
	fmt.Fprintf(out, "Stored at: %s\n", rootPath)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key derive", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var from, role string
	var force bool
	fs.StringVar(&from, "from", "", "Root key name")
	fs.StringVar(&role, "role", "", "Role identifier (e.g. author, reviewer)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if from == "" {
		fmt.Fprintln(errOut, "missing --from")
		return 2
	}
	if role == "" {
		fmt.Fprintln(errOut, "missing --role")
		return 2
	}
	if err := keys.CheckKeyName(from); err != nil {
		fmt.Fprintf(errOut, "invalid --from: %v\n", err)
		return 2
	}
	if err := keys.CheckRole(role); err != nil {
		fmt.Fprintf(errOut, "invalid --role: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	signerKey, rolePath, err := ks.DeriveKeyFromRole(from, role, force)
	if err != nil {
		fmt.Fprintf(errOut, "derive role key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created role key: %s\n", signerKey)
	fmt.Fprintf(out, "Stored at: %s\n", rolePath)
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := keys.CreateKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	entries, err := ks.ListKeys()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\n", e.Identifier)
		for _, r := range e.Permissions {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key export", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name, role string
	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&role, "role", "", "Optional role (if set, exports derived role key)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(errOut, "invalid --name: %v\n", err)
		return 2
	}
	if role != "" {
		if err := keys.CheckRole(role); err != nil {
			fmt.Fprintf(errOut, "invalid --role: %v\n", err)
			return 2
		}
	}
	ks, err := keys.CreateKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	signerKey, err := ks.ExportKey(name, role)
	if err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, signerKey)
	return 0
}
