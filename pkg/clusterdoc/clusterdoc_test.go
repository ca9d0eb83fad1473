package clusterdoc

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		document string
		wantErr  bool
		needsCtx bool
		groups   int
	}{
		{
			name: "single group, no contextualization",
			document: `
groups:
  compute:
    count: 3
    size: m1.large
    keyname: deploy-key
`,
			needsCtx: false,
			groups:   1,
		},
		{
			name: "multiple groups with contextualization required",
			document: `
contextualization:
  required: true
groups:
  master:
    count: 1
    size: m1.small
    keyname: deploy-key
  worker:
    count: 5
    size: m1.large
    keyname: deploy-key
`,
			needsCtx: true,
			groups:   2,
		},
		{
			name:     "no groups is an error",
			document: "groups: {}",
			wantErr:  true,
		},
		{
			name:     "malformed yaml is an error",
			document: "groups: [this is not a map",
			wantErr:  true,
		},
	}

	p := NewParser()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := p.Parse(tc.document)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			d := doc.(*Document)
			if d.NeedsContextualization() != tc.needsCtx {
				t.Errorf("needsCtx = %v, want %v", d.NeedsContextualization(), tc.needsCtx)
			}

			specs, err := doc.BuildSpecs("")
			if err != nil {
				t.Fatalf("BuildSpecs: %v", err)
			}
			if len(specs) != tc.groups {
				t.Errorf("got %d specs, want %d", len(specs), tc.groups)
			}
		})
	}
}
