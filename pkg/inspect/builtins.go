package inspect

func registerBuiltins(d *Dispatcher) {
	view := func(wrap func(objectView) Decoder) Factory {
		return func(d *Dispatcher, obj Object) Decoder {
			return wrap(d.view(obj))
		}
	}

	builtins := []struct {
		pattern string
		factory Factory
	}{
		{"Fr::Array", newArrayDecoder("Array")},
		{"Fr::RefArray", newArrayDecoder("RefArray")},
		{"Fr::HashTable<", newHashTableDecoder},
		{"Fr::HashTable", newHashTableDecoder},
		{"Fr::List", newListDecoder},
		{"Fr::ListBuilder", view(func(v objectView) Decoder { return listBuilderDecoder{v} })},
		{"Fr::Vector<", newVectorDecoder(false)},
		{"Fr::Vector", newVectorDecoder(false)},
		{"Fr::SparseVector<", newVectorDecoder(true)},
		{"Fr::SparseVector", newVectorDecoder(true)},
		{"Fr::BitVector", view(func(v objectView) Decoder { return bitVectorDecoder{v} })},
		{"Fr::Integer", view(func(v objectView) Decoder { return integerDecoder{objectView: v} })},
		{"Fr::Float", view(func(v objectView) Decoder { return floatDecoder{objectView: v} })},
		{"Fr::Atomic<", view(func(v objectView) Decoder { return atomicDecoder{objectView: v} })},
		{"Fr::String", view(func(v objectView) Decoder { return stringDecoder{objectView: v} })},
		{"Fr::Symbol", view(func(v objectView) Decoder { return symbolDecoder{objectView: v} })},
		{"std::mutex", view(func(v objectView) Decoder { return mutexDecoder{objectView: v} })},

		{"Fr::ObjectPtr", newRefDecoder("->Object", "obj", "")},
		{"Fr::Ptr<Object>", newRefDecoder("->Object", "obj", "")},
		{"Fr::ArrayPtr", newRefDecoder("->Array", "arr", "Fr::Array")},
		{"Fr::Ptr<Array>", newRefDecoder("->Array", "arr", "Fr::Array")},
		{"Fr::ListPtr", newRefDecoder("->List", "l", "Fr::List")},
		{"Fr::Ptr<List>", newRefDecoder("->List", "l", "Fr::List")},
		{"Fr::StringPtr", newRefDecoder("->String", "s", "Fr::String")},
		{"Fr::Ptr<String>", newRefDecoder("->String", "s", "Fr::String")},
		{"Fr::Ptr<", newTemplateRefDecoder("")},
		{"Fr::ScopedObject<", newTemplateRefDecoder("ScopedObject")},
		{"Fr::NewPtr<", newTemplateRefDecoder("")},
	}
	for _, b := range builtins {
		if err := d.RegisterDecoder(b.pattern, b.factory); err != nil {
			panic(err)
		}
	}
}
