// Package clusterdoc parses the YAML cluster document DTRS returns into
// typed per-group specs, the Go analogue of NimbusClusterDocument. This
// package is the module's only YAML user; YAML is a natural fit over
// inventing a bespoke format.
package clusterdoc

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// groupWire is one named node group as it appears in document YAML.
type groupWire struct {
	Count   int    `yaml:"count"`
	Size    string `yaml:"size"`
	Keyname string `yaml:"keyname"`
}

// wireDocument mirrors the on-disk/over-the-wire YAML shape.
type wireDocument struct {
	Contextualization struct {
		Required bool `yaml:"required"`
	} `yaml:"contextualization"`
	Groups map[string]groupWire `yaml:"groups"`
}

// Document is a parsed cluster document.
type Document struct {
	needsCtx bool
	groups   map[string]groupWire
}

// NeedsContextualization reports whether the document requests the
// contextualization rendezvous.
func (d *Document) NeedsContextualization() bool { return d.needsCtx }

// BuildSpecs expands the document's groups into per-group Specs. ctxURI is
// accepted for interface symmetry with the original NimbusClusterDocument,
// which threads the context URI through spec construction for drivers that
// embed it in cloud-init user-data; this document format does not use it.
func (d *Document) BuildSpecs(ctxURI string) ([]provisioner.Spec, error) {
	specs := make([]provisioner.Spec, 0, len(d.groups))
	for name, g := range d.groups {
		specs = append(specs, provisioner.Spec{
			Name:    name,
			Count:   g.Count,
			Size:    g.Size,
			Keyname: g.Keyname,
		})
	}
	return specs, nil
}

// Parser implements provisioner.ClusterDocumentParser.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse decodes document text into a Document.
func (p *Parser) Parse(document string) (provisioner.ClusterDocument, error) {
	var wire wireDocument
	if err := yaml.Unmarshal([]byte(document), &wire); err != nil {
		return nil, fmt.Errorf("parse cluster document: %w", err)
	}
	if len(wire.Groups) == 0 {
		return nil, fmt.Errorf("cluster document declares no groups")
	}
	return &Document{needsCtx: wire.Contextualization.Required, groups: wire.Groups}, nil
}
