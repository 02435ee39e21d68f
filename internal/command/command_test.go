package command

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/goja-hostbridge/internal/config"
)

// counterScript registers Counter, a scripted subclass of the default host
// class Node2D.
const counterScript = `
const hb = require('hostbridge');
const Node2D = hb.defineHostClass('Node2D');

class Counter extends Node2D {
	constructor() {
		super();
		this.count = 1;
		this.postInitialize();
	}
	get_value() { return this.count; }
	add(a, b) { return a + b; }
	scale(f) { return f * 1.5; }
	greet(name) { return 'hello ' + name; }
}
Counter.typeInfo = new hb.TypeInfo('Counter', 'Node2D');
Counter.vTable = {_ready: hb.callback(function () { return this.count * 10; })};

function main() {
	hb.registerClass(Counter, [
		hb.method('get_value', 'int'),
		hb.method('add', 'int', ['int', 'int']),
		hb.method('scale', 'float', ['float']),
		hb.method('greet', 'string', ['string']),
		hb.method('_ready', 'int'),
	]);
}
`

// writeScript writes src into a temp dir and returns a config pointing at it,
// with logs going to a file in the same dir.
func writeScript(t *testing.T, src string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.js")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyScriptPath, path)
	cfg.SetGlobalOption(config.KeyLogFile, filepath.Join(dir, "hostbridge.log"))
	return cfg
}

// execute parses args with the command's flags and runs it.
func execute(t *testing.T, cmd Command, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetupFlags(fs)
	require.NoError(t, fs.Parse(args))
	var out, errOut bytes.Buffer
	err = cmd.Execute(fs.Args(), &out, &errOut)
	return out.String(), errOut.String(), err
}
