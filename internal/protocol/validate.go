package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemas = compileSchemas(map[string]string{
	TypeHello: "hello.schema.json",
	TypeView:  "view.schema.json",
	TypeEdit:  "edit.schema.json",
	TypeChunk: "chunk.schema.json",
})

func compileSchemas(files map[string]string) map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(files))
	for typ, name := range files {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			panic(err)
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			panic(fmt.Sprintf("protocol: schema %s: %v", name, err))
		}
		out[typ] = c.MustCompile(name)
	}
	return out
}

// Validate checks raw against the schema of its message type. Types without
// a schema pass.
func Validate(msgType string, raw []byte) error {
	s, ok := schemas[msgType]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	return nil
}
