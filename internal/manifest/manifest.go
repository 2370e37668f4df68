package manifest

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/holiman/uint256"
)

//go:embed schema.cue
var schemaSource string

// Manifest is a compiled deployment description.
type Manifest struct {
	Deployer string
	Owner    string // defaults to Deployer
	Fund     []Funding
	Tokens   []TokenSpec
	Modules  []ModuleSpec
	Setup    []Call
}

// Funding mints native value to an account before anything is deployed.
type Funding struct {
	Account string
	Amount  *uint256.Int
}

// TokenSpec is a helper token deployed next to the proxy.
type TokenSpec struct {
	Name     string // manifest key, referenced as $token.<Name>
	Title    string
	Symbol   string
	Decimals uint8
	Supply   *uint256.Int
	Holder   string // minted to; defaults to Deployer
}

// ModuleSpec is a module deployed and routed through the proxy.
type ModuleSpec struct {
	Name      string // manifest key, referenced as $module.<Name>
	Kind      string
	Selectors []string // empty means every routable method
	Init      bool
	InitArgs  []string // nil means [owner]
}

// Call is a post-install transaction.
type Call struct {
	From   string // defaults to Owner
	To     string // defaults to $proxy
	Method string
	Args   []string
	Value  *uint256.Int
}

// CompileError is a manifest error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a manifest from a .cue file or a directory holding one CUE
// package.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	ctx := cuecontext.New()
	var v cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("load manifest: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return nil, formatCUEError(err)
		}
		v = ctx.BuildInstance(instances[0])
	} else {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load manifest: %w", err)
		}
		v = ctx.CompileBytes(src, cue.Filename(path))
	}
	return compileIn(ctx, v)
}

// Parse compiles manifest source.
func Parse(src []byte, filename string) (*Manifest, error) {
	ctx := cuecontext.New()
	return compileIn(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
}

func compileIn(ctx *cue.Context, v cue.Value) (*Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	v = schema.LookupPath(cue.ParsePath("#Manifest")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile converts a validated CUE value into a Manifest.
func Compile(v cue.Value) (*Manifest, error) {
	m := &Manifest{}
	var err error
	if m.Deployer, err = v.LookupPath(cue.ParsePath("deployer")).String(); err != nil {
		return nil, formatCUEError(err)
	}
	m.Owner = m.Deployer
	if ov := v.LookupPath(cue.ParsePath("owner")); ov.Exists() {
		if m.Owner, err = ov.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if err := eachField(v, "fund", func(label string, fv cue.Value) error {
		amt, err := amountOf(fv)
		if err != nil {
			return err
		}
		m.Fund = append(m.Fund, Funding{Account: label, Amount: amt})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachField(v, "tokens", func(label string, tv cue.Value) error {
		t, err := compileToken(label, tv)
		if err != nil {
			return err
		}
		m.Tokens = append(m.Tokens, t)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachField(v, "modules", func(label string, mv cue.Value) error {
		mod, err := compileModule(label, mv)
		if err != nil {
			return err
		}
		m.Modules = append(m.Modules, mod)
		return nil
	}); err != nil {
		return nil, err
	}
	if len(m.Modules) == 0 {
		return nil, &CompileError{Field: "modules", Message: "at least one module is required", Pos: v.Pos()}
	}

	setup := v.LookupPath(cue.ParsePath("setup"))
	if setup.Exists() {
		iter, err := setup.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			c, err := compileCall(iter.Value())
			if err != nil {
				return nil, err
			}
			m.Setup = append(m.Setup, c)
		}
	}
	return m, nil
}

func eachField(v cue.Value, path string, fn func(label string, fv cue.Value) error) error {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func compileToken(name string, v cue.Value) (TokenSpec, error) {
	t := TokenSpec{Name: name}
	var err error
	if t.Title, err = str(v, "name"); err != nil {
		return t, err
	}
	if t.Symbol, err = str(v, "symbol"); err != nil {
		return t, err
	}
	dec, err := v.LookupPath(cue.ParsePath("decimals")).Int64()
	if err != nil {
		return t, formatCUEError(err)
	}
	t.Decimals = uint8(dec)
	if t.Supply, err = amountOf(v.LookupPath(cue.ParsePath("supply"))); err != nil {
		return t, err
	}
	if hv := v.LookupPath(cue.ParsePath("holder")); hv.Exists() {
		if t.Holder, err = hv.String(); err != nil {
			return t, formatCUEError(err)
		}
	}
	return t, nil
}

func compileModule(name string, v cue.Value) (ModuleSpec, error) {
	m := ModuleSpec{Name: name}
	var err error
	if m.Kind, err = str(v, "kind"); err != nil {
		return m, err
	}
	if _, ok := Lookup(m.Kind); !ok {
		return m, &CompileError{Field: "modules." + name + ".kind", Message: fmt.Sprintf("unknown kind %q", m.Kind), Pos: v.Pos()}
	}
	if m.Init, err = v.LookupPath(cue.ParsePath("init")).Bool(); err != nil {
		return m, formatCUEError(err)
	}
	if m.Selectors, err = strList(v, "selectors"); err != nil {
		return m, err
	}
	if m.InitArgs, err = strList(v, "initArgs"); err != nil {
		return m, err
	}
	return m, nil
}

func compileCall(v cue.Value) (Call, error) {
	var c Call
	var err error
	if c.Method, err = str(v, "method"); err != nil {
		return c, err
	}
	if fv := v.LookupPath(cue.ParsePath("from")); fv.Exists() {
		if c.From, err = fv.String(); err != nil {
			return c, formatCUEError(err)
		}
	}
	if tv := v.LookupPath(cue.ParsePath("to")); tv.Exists() {
		if c.To, err = tv.String(); err != nil {
			return c, formatCUEError(err)
		}
	}
	if c.Args, err = strList(v, "args"); err != nil {
		return c, err
	}
	if vv := v.LookupPath(cue.ParsePath("value")); vv.Exists() {
		if c.Value, err = amountOf(vv); err != nil {
			return c, err
		}
	}
	return c, nil
}

func str(v cue.Value, path string) (string, error) {
	s, err := v.LookupPath(cue.ParsePath(path)).String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func strList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// amountOf reads an amount written as an integer or a decimal string.
func amountOf(v cue.Value) (*uint256.Int, error) {
	var n *big.Int
	if v.Kind() == cue.IntKind {
		bi, err := v.Int(nil)
		if err != nil {
			return nil, formatCUEError(err)
		}
		n = bi
	} else {
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		bi, ok := new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 10)
		if !ok {
			return nil, &CompileError{Field: "amount", Message: fmt.Sprintf("invalid amount %q", s), Pos: v.Pos()}
		}
		n = bi
	}
	amt, overflow := uint256.FromBig(n)
	if overflow || n.Sign() < 0 {
		return nil, &CompileError{Field: "amount", Message: fmt.Sprintf("amount %s out of range", n), Pos: v.Pos()}
	}
	return amt, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
