package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"gitlab.com/stephen-fox/gammahook/asmkit"
	"gitlab.com/stephen-fox/gammahook/conv"
	"gitlab.com/stephen-fox/gammahook/hook"
	"gitlab.com/stephen-fox/gammahook/patch"
	"gitlab.com/stephen-fox/gammahook/process"
	"gitlab.com/stephen-fox/gammahook/selector"
)

const (
	asmSyntaxArg    = "s"
	outputFormatArg = "o"
	numBytesArg     = "n"
	expectArg       = "expect"
	verboseArg      = "v"
	helpArg         = "h"

	intelSyntax = "intel"

	hexFormat         = "hex"
	b64Format         = "b64"
	prettyFormat      = "pretty"
	jsonDisassFormat  = "json"
	jsonVerboseFormat = "jsonv"
	goFormat          = "go"

	defaultSite = hook.PatchModule + "!" + hook.PatchSymbol

	appName = "patchsite"
	usage   = appName + `
DESCRIPTION
  Disassembles the start of a function in another process. This is the
  code that a hook overwrites. Use it to check what a function looks
  like before patching it, or to confirm that a patch is in place.
  It also reports, on stderr, whether an absolute jump written there
  would end on an instruction boundary.

  The process is selected by id or by executable name. The function
  defaults to ` + defaultSite + `.

USAGE
  ` + appName + ` [options] PID|name [module!symbol]

EXAMPLES:
  Show the gamma function of f.lux:
    $ ` + appName + ` flux
    0x7ffa4c1e3a10: mov qword ptr [rsp+0x8], rbx
    0x7ffa4c1e3a15: push rdi
    ...

  Fail unless the function starts with the given bytes:
    $ ` + appName + ` -` + expectArg + ` '0x48, 0x89, 0x5c, 0x24, 0x08' 4312

  Dump the first 12 bytes of a function as a Go []byte:
    $ ` + appName + ` -` + numBytesArg + ` 12 -` + outputFormatArg + ` ` + goFormat + ` 4312 user32!MessageBoxW

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	outputFormat := flag.String(
		outputFormatArg,
		prettyFormat,
		"The output format ('"+strings.Join([]string{prettyFormat, jsonDisassFormat,
			jsonVerboseFormat, goFormat, hexFormat, b64Format}, "', '")+"')")

	syntax := flag.String(
		asmSyntaxArg,
		intelSyntax,
		"The desired assembly syntax")

	numBytes := flag.Int(
		numBytesArg,
		32,
		"The number of bytes to read from the start of the function")

	expect := flag.String(
		expectArg,
		"",
		"Hex bytes the function must start with (e.g., '0x48, 0x89' or '48 89')")

	verbose := flag.Bool(
		verboseArg,
		false,
		"Log each step to stderr")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() < 1 || flag.NArg() > 2 {
		return fmt.Errorf("please specify a process id or name and optionally a module!symbol")
	}

	if *numBytes <= 0 {
		return fmt.Errorf("-%s must be greater than zero - got %d", numBytesArg, *numBytes)
	}

	var expected []byte
	if *expect != "" {
		var err error
		expected, err = conv.HexStringToBytes(*expect)
		if err != nil {
			return fmt.Errorf("failed to parse -%s bytes - %w", expectArg, err)
		}

		if len(expected) > *numBytes {
			*numBytes = len(expected)
		}
	}

	site := defaultSite
	if flag.NArg() == 2 {
		site = flag.Arg(1)
	}

	moduleName, symbol, ok := strings.Cut(site, "!")
	if !ok || moduleName == "" || symbol == "" {
		return fmt.Errorf("function must be written as module!symbol - got %q", site)
	}

	var logger *log.Logger
	if *verbose {
		logger = log.New(os.Stderr, "[patchsite] ", 0)
	}

	ctx, cancelFn := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancelFn()

	target := selector.Selector{Name: flag.Arg(0)}
	if pid, err := strconv.ParseUint(flag.Arg(0), 10, 32); err == nil {
		target = selector.Selector{PID: uint32(pid)}
	}

	pid, err := target.Resolve(ctx, selector.Config{
		OptLogger: logger,
	})
	if err != nil {
		return err
	}

	platform, err := process.DefaultPlatform()
	if err != nil {
		return err
	}

	p, err := process.Open(pid, process.OpenConfig{
		Platform:  platform,
		OptLogger: logger,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	module, err := p.ModuleByName(moduleName)
	if err != nil {
		return err
	}

	address, err := module.ProcAddress(symbol)
	if err != nil {
		return err
	}

	code := make([]byte, *numBytes)

	_, err = p.ReadMemory(address, code)
	if err != nil {
		return fmt.Errorf("failed to read %s at 0x%x - %w", site, address, err)
	}

	if expected != nil && !bytes.HasPrefix(code, expected) {
		return fmt.Errorf("%s at 0x%x does not start with the expected bytes - expected: % x - got: % x",
			site, address, expected, code[:len(expected)])
	}

	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:         asmkit.DisassemblySyntax(*syntax),
		Bits:           p.Bits(),
		OptBaseAddress: uint64(address),
	})
	if err != nil {
		return fmt.Errorf("failed to create new disassembler - %w", err)
	}

	output := bytes.NewBuffer(nil)
	var writer instWriter

	switch *outputFormat {
	case prettyFormat:
		writer = &disassWriter{
			w: output,
		}
	case hexFormat:
		writer = &encoderWriter{
			encoder: hex.NewEncoder(output),
			w:       output,
		}
	case b64Format:
		writer = &encoderWriter{
			encoder: base64.NewEncoder(base64.StdEncoding, output),
			w:       output,
		}
	case jsonDisassFormat:
		writer = &jsonDisassWriter{
			indent: "  ",
			w:      output,
		}
	case jsonVerboseFormat:
		writer = &jsonVerboseWriter{
			indent: "  ",
			w:      output,
		}
	case goFormat:
		writer = &goByteSliceWriter{
			w: output,
		}
	default:
		return fmt.Errorf("unsupported output format: %q",
			*outputFormat)
	}

	// The read usually ends part way through an instruction.
	insts, rest := disassembler.Prefix(code)

	for _, inst := range insts {
		err = writer.Write(inst)
		if err != nil {
			return err
		}
	}

	err = writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to write remaining data to output - %w", err)
	}

	if len(rest) > 0 && logger != nil {
		logger.Printf("%d trailing bytes did not decode: % x", len(rest), rest)
	}

	_, err = io.Copy(os.Stdout, output)
	if err != nil {
		return err
	}

	jumpLen, covered, err := patch.JumpBoundary(p.Bits(), code)
	switch {
	case err != nil:
		log.Printf("could not check instruction boundary - %v", err)
	case covered != jumpLen:
		log.Printf("a %d byte jump at %s ends inside an instruction - whole instructions cover %d bytes",
			jumpLen, site, covered)
	default:
		log.Printf("a %d byte jump at %s ends on an instruction boundary", jumpLen, site)
	}

	return nil
}

type instWriter interface {
	Write(asmkit.Inst) error
	Flush() error
}

var _ instWriter = (*disassWriter)(nil)

type disassWriter struct {
	w io.Writer
}

func (o *disassWriter) Write(inst asmkit.Inst) error {
	_, err := fmt.Fprintf(o.w, "0x%x: %s\n", inst.Address, inst.Dis)
	if err != nil {
		return err
	}

	return nil
}

func (o *disassWriter) Flush() error {
	return nil
}

var _ instWriter = (*encoderWriter)(nil)

type encoderWriter struct {
	encoder io.Writer
	w       io.Writer
}

func (o *encoderWriter) Write(inst asmkit.Inst) error {
	_, err := o.encoder.Write(inst.Bin)
	if err != nil {
		return err
	}

	return nil
}

func (o *encoderWriter) Flush() error {
	closer, ok := o.encoder.(io.Closer)
	if ok {
		err := closer.Close()
		if err != nil {
			return err
		}
	}

	_, err := o.w.Write([]byte{'\n'})
	if err != nil {
		return err
	}

	return nil
}

var _ instWriter = (*jsonDisassWriter)(nil)

type jsonDisassWriter struct {
	indent string
	w      io.Writer
	buf    []string
}

func (o *jsonDisassWriter) Write(inst asmkit.Inst) error {
	o.buf = append(o.buf, inst.Dis)

	return nil
}

func (o *jsonDisassWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*jsonVerboseWriter)(nil)

type jsonVerboseWriter struct {
	indent string
	w      io.Writer
	buf    []asmkit.Inst
}

func (o *jsonVerboseWriter) Write(inst asmkit.Inst) error {
	o.buf = append(o.buf, inst)

	return nil
}

func (o *jsonVerboseWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst) error {
	if !o.isInit {
		o.isInit = true

		_, err := o.w.Write([]byte("[]byte{\n"))
		if err != nil {
			return err
		}
	}

	_, err := o.w.Write([]byte{'\t'})
	if err != nil {
		return err
	}

	for _, b := range inst.Bin {
		_, err = fmt.Fprintf(o.w, "0x%02x, ", b)
		if err != nil {
			return err
		}
	}

	_, err = o.w.Write([]byte("// " + inst.Dis + "\n"))
	if err != nil {
		return err
	}

	return nil
}

func (o *goByteSliceWriter) Flush() error {
	if !o.isInit {
		_, err := o.w.Write([]byte("[]byte{}\n"))
		return err
	}

	_, err := o.w.Write([]byte{'}', '\n'})
	if err != nil {
		return err
	}

	return nil
}
