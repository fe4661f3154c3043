package carriers

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalogFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carriers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalogEmptyPathReturnsDefaults(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries) != len(DefaultCatalog().Entries) {
		t.Fatalf("entries = %d, want defaults", len(c.Entries))
	}
}

func TestLoadCatalogOverlaysFileOnDefaults(t *testing.T) {
	path := writeCatalogFile(t, `
carriers:
  - key: swiftparcel
    name: SwiftParcel Staging
    endpoint: http://localhost:9001/rates
    supports: [parcel]
  - key: polarcargo
    name: Polar Cargo
    coldStart: true
    endpoint: http://localhost:9002/rates
    supports: [freight]
`)
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries) != len(DefaultCatalog().Entries)+1 {
		t.Fatalf("entries = %d, want defaults plus polarcargo", len(c.Entries))
	}
	e, ok := c.Find("swiftparcel")
	if !ok {
		t.Fatalf("swiftparcel missing after overlay")
	}
	if e.Name != "SwiftParcel Staging" || e.Endpoint != "http://localhost:9001/rates" {
		t.Fatalf("overlay did not replace default entry: %+v", e)
	}
	p, ok := c.Find("polarcargo")
	if !ok || !p.ColdStart {
		t.Fatalf("appended entry wrong: %+v ok=%v", p, ok)
	}
}

func TestLoadCatalogBadYAML(t *testing.T) {
	path := writeCatalogFile(t, "carriers: [key: {")
	if _, err := LoadCatalog(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestFindByAlias(t *testing.T) {
	c := DefaultCatalog()
	e, ok := c.Find("road-link")
	if !ok || e.Key != "roadlink" {
		t.Fatalf("alias lookup failed: %+v ok=%v", e, ok)
	}
	if _, ok := c.Find("nobody"); ok {
		t.Fatalf("unknown key should not match")
	}
}
