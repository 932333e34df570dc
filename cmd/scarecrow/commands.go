package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/jacentio/scarecrow/ident"
	"github.com/jacentio/scarecrow/store"
)

const usage = `commands:
  install [-drop]              create the entity and index tables
  get <name>                   print the object stored under name
  set <name>                   store the JSON object read from stdin
  delete <name>                remove the object stored under name
  len                          print the number of stored objects
  ls                           print every stored id
  last-update <name>           print when name was last set
  indexes                      print the declared indexes
  query <index> <op> <args>    run get, count, get_ids, get_range or get_range_ids

A name of the form 0x<32 hex digits> is used as a raw object id.`

// document is a JSON object. Temporal attributes arrive as strings and are
// parsed according to the kind of the index that reads them.
type document struct {
	fields map[string]any
	kinds  map[string]store.Kind
}

func (d document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.fields)
}

func (d *document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(&d.fields)
}

// Attribute implements store.Attributer.
func (d document) Attribute(name string) (any, bool) {
	v, ok := d.fields[name]
	if !ok || v == nil {
		return nil, false
	}
	s, isString := v.(string)
	k, temporal := d.kinds[name]
	if !isString || !temporal {
		return v, true
	}
	parsed, err := store.ParseValue(k, s)
	if err != nil {
		return v, true // rejected by the index as a type mismatch
	}
	return parsed.Interface(), true
}

func run(ctx context.Context, m *store.Model[document], args []string, stdin io.Reader, stdout io.Writer) error {
	cmd, args := args[0], args[1:]
	enc := json.NewEncoder(stdout)

	switch cmd {
	case "install":
		fs := flag.NewFlagSet("install", flag.ContinueOnError)
		drop := fs.Bool("drop", false, "Delete existing tables and their data first")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return m.Install(ctx, *drop)

	case "get":
		id, err := oneID(cmd, args)
		if err != nil {
			return err
		}
		doc, ok, err := m.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not found", args[0])
		}
		return enc.Encode(doc)

	case "set":
		id, err := oneID(cmd, args)
		if err != nil {
			return err
		}
		var doc document
		if err := json.NewDecoder(stdin).Decode(&doc); err != nil {
			return fmt.Errorf("read object: %w", err)
		}
		if doc.fields == nil {
			return errors.New("read object: expected a JSON object")
		}
		doc.kinds = temporalKinds(m)
		return m.Set(ctx, id, doc)

	case "delete":
		id, err := oneID(cmd, args)
		if err != nil {
			return err
		}
		return m.Delete(ctx, id)

	case "len":
		n, err := m.Len(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(n)

	case "ls":
		return printIDs(stdout, m.IDs(ctx))

	case "last-update":
		id, err := oneID(cmd, args)
		if err != nil {
			return err
		}
		t, ok, err := m.LastUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not found", args[0])
		}
		return enc.Encode(t)

	case "indexes":
		for _, idx := range m.Registry().All() {
			if _, err := fmt.Fprintf(stdout, "%s\t%s\t%s\n", idx.Name(), idx.Attribute(), idx.Kind()); err != nil {
				return err
			}
		}
		return nil

	case "query":
		if len(args) < 2 {
			return errors.New("query: want <index> <op> <args>")
		}
		return query(ctx, m, args[0], args[1], args[2:], stdout)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func query(ctx context.Context, m *store.Model[document], name, op string, raw []string, stdout io.Writer) error {
	idx, err := m.Index(name)
	if err != nil {
		return err
	}
	if _, ok := store.Arity(op); !ok {
		return &store.NotFoundError{Kind: "operation", Name: op}
	}
	values := make([]any, len(raw))
	for i, s := range raw {
		v, err := store.ParseValue(idx.Kind(), s)
		if err != nil {
			return err
		}
		values[i] = v.Interface()
	}

	res, err := m.Query(ctx, name, op, values...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	switch r := res.(type) {
	case int64:
		return enc.Encode(r)
	case iter.Seq2[ident.ObjectID, error]:
		return printIDs(stdout, r)
	case iter.Seq2[document, error]:
		for doc, err := range r {
			if err != nil {
				return err
			}
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("query: unexpected result %T", res)
}

func printIDs(w io.Writer, ids iter.Seq2[ident.ObjectID, error]) error {
	for id, err := range ids {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

func oneID(cmd string, args []string) (ident.ObjectID, error) {
	if len(args) != 1 {
		return ident.Zero, fmt.Errorf("%s: want exactly one name", cmd)
	}
	return parseName(args[0])
}

// parseName maps a command line name to an object id.
func parseName(s string) (ident.ObjectID, error) {
	if hexID, ok := strings.CutPrefix(s, "0x"); ok {
		return ident.ParseHex(hexID)
	}
	return ident.Of(s), nil
}

// temporalKinds returns the kind of every attribute indexed as a date, time
// or datetime.
func temporalKinds(m *store.Model[document]) map[string]store.Kind {
	kinds := make(map[string]store.Kind)
	for _, idx := range m.Registry().All() {
		switch idx.Kind() {
		case store.DateTime, store.Date, store.Time:
			kinds[idx.Attribute()] = idx.Kind()
		}
	}
	return kinds
}
