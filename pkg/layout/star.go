package layout

import (
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type regionValue struct {
	RegionConfig
}

// Attr implements starlark.HasAttrs.
func (r *regionValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "base":
		return starlark.MakeUint64(uint64(r.Base)), nil
	case "size":
		return starlark.MakeUint64(uint64(r.Size)), nil
	case "file":
		return starlark.String(r.File), nil
	case "offset":
		return starlark.MakeUint64(uint64(r.Offset)), nil
	default:
		return nil, nil
	}
}

// AttrNames implements starlark.HasAttrs.
func (*regionValue) AttrNames() []string {
	return []string{"base", "size", "file", "offset"}
}

func (r *regionValue) String() string { return fmt.Sprintf("region(%s)", r.RegionConfig) }
func (*regionValue) Type() string     { return "region" }
func (*regionValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("region is not hashable")
}
func (*regionValue) Truth() starlark.Bool { return starlark.True }
func (*regionValue) Freeze()              {}

var (
	_ starlark.Value    = &regionValue{}
	_ starlark.HasAttrs = &regionValue{}
)

func toQuantity(v starlark.Value) (Quantity, error) {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return 0, nil
	case starlark.Int:
		u, ok := v.Uint64()
		if !ok {
			return 0, fmt.Errorf("%s does not fit in 64 bits", v)
		}
		return Quantity(u), nil
	case starlark.String:
		return ParseQuantity(string(v))
	default:
		return 0, fmt.Errorf("could not convert %s to a quantity", v.Type())
	}
}

func layoutGlobals() starlark.StringDict {
	return starlark.StringDict{
		"region": starlark.NewBuiltin("region", func(
			thread *starlark.Thread,
			fn *starlark.Builtin,
			args starlark.Tuple,
			kwargs []starlark.Tuple,
		) (starlark.Value, error) {
			var (
				base   starlark.Value
				size   starlark.Value
				file   string
				offset starlark.Value
			)

			if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
				"base", &base,
				"size?", &size,
				"file?", &file,
				"offset?", &offset,
			); err != nil {
				return starlark.None, err
			}

			var (
				region regionValue
				err    error
			)

			region.File = file

			if region.Base, err = toQuantity(base); err != nil {
				return starlark.None, fmt.Errorf("%s: base: %w", fn.Name(), err)
			}
			if region.Size, err = toQuantity(size); err != nil {
				return starlark.None, fmt.Errorf("%s: size: %w", fn.Name(), err)
			}
			if region.Offset, err = toQuantity(offset); err != nil {
				return starlark.None, fmt.Errorf("%s: offset: %w", fn.Name(), err)
			}

			if region.Size == 0 && region.File == "" {
				return starlark.None, fmt.Errorf("%s: anonymous regions need a size", fn.Name())
			}

			return &region, nil
		}),
		"size": starlark.NewBuiltin("size", func(
			thread *starlark.Thread,
			fn *starlark.Builtin,
			args starlark.Tuple,
			kwargs []starlark.Tuple,
		) (starlark.Value, error) {
			var s string

			if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
				"s", &s,
			); err != nil {
				return starlark.None, err
			}

			q, err := ParseQuantity(s)
			if err != nil {
				return starlark.None, err
			}

			return starlark.MakeUint64(uint64(q)), nil
		}),
	}
}

func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		Recursion:       true,
	}
}

// EvalStarlark runs a layout script and returns the regions it assigned to
// the global regions.
func EvalStarlark(filename string, contents []byte) (*Layout, error) {
	thread := &starlark.Thread{
		Name: filename,
		Print: func(thread *starlark.Thread, msg string) {
			slog.Info(msg, "script", thread.Name)
		},
	}

	globals, err := starlark.ExecFileOptions(fileOptions(), thread, filename, contents, layoutGlobals())
	if err != nil {
		return nil, err
	}

	value, ok := globals["regions"]
	if !ok {
		return nil, fmt.Errorf("%s: regions is not defined", filename)
	}

	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: could not convert %s to a list of regions", filename, value.Type())
	}

	var layout Layout

	iter := iterable.Iterate()
	defer iter.Done()

	var val starlark.Value
	for iter.Next(&val) {
		region, ok := val.(*regionValue)
		if !ok {
			return nil, fmt.Errorf("%s: could not convert %s to region", filename, val.Type())
		}

		layout.Regions = append(layout.Regions, region.RegionConfig)
	}

	return &layout, nil
}
