package terminal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
)

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		err := configureSet(t, args)
		if err != nil {
			return err
		}
		t.disp.SetLoadConfig(t.loadConfig())
		return nil
	}
}

type configureIterator struct {
	cfgValue reflect.Value
	cfgType  reflect.Type
	i        int
}

func iterateConfiguration(conf *config.Config) *configureIterator {
	cfgValue := reflect.ValueOf(conf).Elem()
	cfgType := cfgValue.Type()

	return &configureIterator{cfgValue, cfgType, -1}
}

func (it *configureIterator) Next() bool {
	it.i++
	return it.i < it.cfgValue.NumField()
}

func (it *configureIterator) Field() (name string, field reflect.Value) {
	name = it.cfgType.Field(it.i).Tag.Get("yaml")
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	field = it.cfgValue.Field(it.i)
	return
}

func configureFindFieldByName(conf *config.Config, name string) reflect.Value {
	it := iterateConfiguration(conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.ValueOf(nil)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	it := iterateConfiguration(t.conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == "" {
			continue
		}

		if field.Kind() == reflect.Ptr {
			if !field.IsNil() {
				fmt.Fprintf(w, "%s\t%v\n", fieldName, field.Elem())
			} else {
				fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
			}
		} else {
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
		}
	}
	return w.Flush()
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

func configureSet(t *Term, args string) error {
	v := split2PartsBySpace(args)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = v[1]
	}

	switch cfgname {
	case "alias":
		return configureSetAlias(t, rest)
	case "type-alias":
		return configureSetTypeAlias(t, rest)
	case "layouts", "layout":
		return configureSetLayout(t, rest)
	}

	field := configureFindFieldByName(t.conf, cfgname)
	if !field.CanAddr() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}

	simpleArg := func(typ reflect.Type) (reflect.Value, error) {
		switch typ.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(rest)
			if err != nil {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number", cfgname)
			}
			if n < 0 {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
			}
			return reflect.ValueOf(&n), nil
		case reflect.Bool:
			v := rest == "true"
			return reflect.ValueOf(&v), nil
		case reflect.String:
			v := rest
			return reflect.ValueOf(&v), nil
		default:
			return reflect.ValueOf(nil), fmt.Errorf("unsupported type for configuration key %q", cfgname)
		}
	}

	old := reflect.New(field.Type()).Elem()
	old.Set(field)
	if field.Kind() == reflect.Ptr {
		val, err := simpleArg(field.Type().Elem())
		if err != nil {
			return err
		}
		field.Set(val)
	} else {
		val, err := simpleArg(field.Type())
		if err != nil {
			return err
		}
		field.Set(val.Elem())
	}

	switch cfgname {
	case "type-resolver", "vtable-mask-bits":
		r, err := inspect.NewTypeResolver(t.conf.TypeResolver, config.IntOr(t.conf.VtableMaskBits, inspect.DefaultMaskBits))
		if err != nil {
			field.Set(old)
			return err
		}
		t.disp.SetResolver(r)
	}
	return nil
}

// configureSetLayout changes the offset of one field of a type layout,
// creating the layout if the type has none.
func configureSetLayout(t *Term, rest string) error {
	argv := config.SplitQuotedFields(rest, '"')
	if len(argv) != 3 {
		return fmt.Errorf("wrong number of arguments to \"config layout\"")
	}
	off, err := strconv.ParseUint(argv[2], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %q", argv[2])
	}
	typ, field := argv[0], argv[1]
	if l, ok := t.disp.Layouts().Lookup(typ); ok {
		typ = l.Name
	}
	if t.conf.Layouts == nil {
		t.conf.Layouts = make(map[string]config.FieldOffsets)
	}
	if t.conf.Layouts[typ] == nil {
		t.conf.Layouts[typ] = make(config.FieldOffsets)
	}
	t.conf.Layouts[typ][field] = off
	t.disp.Layouts().Merge(map[string]config.FieldOffsets{typ: {field: off}})
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv := config.SplitQuotedFields(rest, '"')
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}

func configureSetTypeAlias(t *Term, rest string) error {
	argv := config.SplitQuotedFields(rest, '"')
	switch len(argv) {
	case 1: // delete type alias, the tag decodes as itself again
		delete(t.conf.TypeAliases, argv[0])
		t.disp.SetAlias(argv[0], argv[0])
	case 2:
		if t.conf.TypeAliases == nil {
			t.conf.TypeAliases = make(map[string]string)
		}
		t.conf.TypeAliases[argv[0]] = argv[1]
		t.disp.SetAlias(argv[0], argv[1])
	default:
		return fmt.Errorf("wrong number of arguments to \"config type-alias\"")
	}
	return nil
}
